package interview

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

const (
	DefaultGreeting = "Hello! I'm Zoey, I am on a mission to promote Trust, Loyalty and Respect " +
		"and help you find the best Soul Match possible. Let's get to know you a little better. " +
		"Tell me something cool about you."

	DefaultAcknowledgement = "Okay, I have that your {key} is {value}."

	DefaultCompletion = "Thank you, I have collected all the information."

	DefaultInstructions = `You have a name: Zoey. You are really smart in terms of Love and Connections. You have almost 100% success in connecting perfect couples.
You are on a mission to promote Trust, Loyalty and Respect and help people find the best Soul Match possible. Your purpose is to collect information from the user. Sometimes use fillers "uhm" and "ahh" to make it sound more natural and try to be funny and joyful.
You collect the following information:

1. Name
2. Dream City
3. Hometown
4. Likes
5. Dislikes
6. Height

Engage in a natural conversation. Ask exactly one question per reply and then wait for the user's response. Keep replies short, they are spoken aloud.
Vary your phrasing, do not always say "What is your...".
Once you have collected all the information, say "Thank you, I have collected all the information."`
)

// Script holds the fixed lines the agent speaks around the questions.
type Script struct {
	Greeting        string `yaml:"greeting"`
	Instructions    string `yaml:"instructions"`
	Acknowledgement string `yaml:"acknowledgement"` // {key} and {value} are substituted
	Completion      string `yaml:"completion"`
}

// DefaultScript returns the Zoey persona lines.
func DefaultScript() Script {
	return Script{
		Greeting:        DefaultGreeting,
		Instructions:    DefaultInstructions,
		Acknowledgement: DefaultAcknowledgement,
		Completion:      DefaultCompletion,
	}
}

// Acknowledge renders the acknowledgement line for one answer.
func (s Script) Acknowledge(key, value string) string {
	return strings.NewReplacer("{key}", key, "{value}", value).Replace(s.Acknowledgement)
}

func (s Script) withDefaults() Script {
	d := DefaultScript()
	if s.Greeting == "" {
		s.Greeting = d.Greeting
	}
	if s.Instructions == "" {
		s.Instructions = d.Instructions
	}
	if s.Acknowledgement == "" {
		s.Acknowledgement = d.Acknowledgement
	}
	if s.Completion == "" {
		s.Completion = d.Completion
	}
	return s
}

// Definition is a complete interview: the script and its questions.
type Definition struct {
	Script    Script
	Questions *QuestionSet
}

// DefaultDefinition is the built-in soul-match interview.
func DefaultDefinition() *Definition {
	return &Definition{Script: DefaultScript(), Questions: DefaultQuestionSet()}
}

type definitionFile struct {
	Script    `yaml:",inline"`
	Questions []Question `yaml:"questions"`
}

// ParseDefinition reads a YAML interview definition. Script lines left out
// fall back to the defaults; questions are required.
//
//	greeting: Hello!
//	questions:
//	  - prompt: What is your name?
//	  - prompt: Where did you grow up?
//	    key: hometown
func ParseDefinition(data []byte) (*Definition, error) {
	var f definitionFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("interview: parse definition: %w", err)
	}
	qs, err := NewQuestionSet(f.Questions)
	if err != nil {
		return nil, err
	}
	script := f.Script.withDefaults()
	if !strings.Contains(script.Acknowledgement, "{value}") {
		return nil, fmt.Errorf("interview: acknowledgement %q must reference {value}", script.Acknowledgement)
	}
	return &Definition{Script: script, Questions: qs}, nil
}

// LoadDefinition reads and validates the YAML definition at path.
func LoadDefinition(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("interview: read %s: %w", path, err)
	}
	return ParseDefinition(data)
}
