package livekit

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/livekit/protocol/auth"
)

const DefaultTokenTTL = time.Hour

var (
	ErrNotConfigured = errors.New("livekit: api key and secret are required")
	ErrMissingRoom   = errors.New("livekit: token carries no room grant")
)

// Config holds the LiveKit credentials. URL is handed to clients that join
// the room directly; the agent itself only signs and checks tokens.
type Config struct {
	URL       string
	APIKey    string
	APISecret string
	TokenTTL  time.Duration
}

// Grant is what a session token authorizes: one identity in one room. The
// room name doubles as the interview session ID.
type Grant struct {
	Identity string
	Room     string
}

// TokenIssuer signs room-join tokens in LiveKit's format and verifies them
// when a client opens a session.
type TokenIssuer struct {
	config Config
}

func NewTokenIssuer(config Config) (*TokenIssuer, error) {
	if config.APIKey == "" || config.APISecret == "" {
		return nil, ErrNotConfigured
	}
	if config.TokenTTL <= 0 {
		config.TokenTTL = DefaultTokenTTL
	}
	return &TokenIssuer{config: config}, nil
}

func (i *TokenIssuer) URL() string {
	return i.config.URL
}

// Issue returns a signed token for identity. An empty room gets a fresh
// interview room name.
func (i *TokenIssuer) Issue(identity, room string) (string, Grant, error) {
	if identity == "" {
		identity = "guest-" + uuid.NewString()[:8]
	}
	if room == "" {
		room = "interview-" + uuid.NewString()
	}
	token, err := auth.NewAccessToken(i.config.APIKey, i.config.APISecret).
		SetIdentity(identity).
		SetValidFor(i.config.TokenTTL).
		SetVideoGrant(&auth.VideoGrant{RoomJoin: true, Room: room}).
		ToJWT()
	if err != nil {
		return "", Grant{}, fmt.Errorf("livekit: sign token: %w", err)
	}
	return token, Grant{Identity: identity, Room: room}, nil
}

// Verify checks the signature, issuer and expiry of token and returns its
// grant.
func (i *TokenIssuer) Verify(token string) (Grant, error) {
	parsed, err := jwt.Parse(token, func(t *jwt.Token) (any, error) {
		return []byte(i.config.APISecret), nil
	},
		jwt.WithValidMethods([]string{"HS256"}),
		jwt.WithIssuer(i.config.APIKey),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return Grant{}, fmt.Errorf("livekit: verify token: %w", err)
	}
	claims, ok := parsed.Claims.(jwt.MapClaims)
	if !ok || !parsed.Valid {
		return Grant{}, errors.New("livekit: invalid token claims")
	}

	identity, _ := claims["sub"].(string)
	video, _ := claims["video"].(map[string]any)
	room, _ := video["room"].(string)
	if room == "" {
		return Grant{}, ErrMissingRoom
	}
	return Grant{Identity: identity, Room: room}, nil
}
