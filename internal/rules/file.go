// Package rules implements the scripted stage of turn resolution: an ordered
// list of trigger/action rules loaded from YAML, the greetings used to open a
// conversation, and the small-talk generator rules may delegate to.
//
// A rules file looks like this:
//
//	greetings:
//	  - Привет! Я Реплика. Чем могу помочь?
//	no_relevant_information:
//	  - Я не знаю.
//	unknown_order:
//	  - Не понимаю, что нужно сделать.
//	smalltalk:
//	  prompt: Ты дружелюбный собеседник. Отвечай одной фразой.
//	rules:
//	  - name: hello
//	    if: {keywords: {any: [привет, здравствуй]}}
//	    then: {say: [Привет!, Здравствуйте!]}
//	  - name: remember_name
//	    if: {regex: 'меня зовут (?P<name>\p{L}+)'}
//	    then:
//	      set: {user_name: '{{.Groups.name}}'}
//	      template: Приятно познакомиться, {{.Groups.name}}!
//
// Every condition present in "if" must hold for the rule to fire.
package rules

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/MrWong99/replica/internal/fallback"
)

// File is the YAML layout of a rules file.
type File struct {
	Greetings []string       `yaml:"greetings"`
	Smalltalk SmalltalkSpec  `yaml:"smalltalk"`
	Rules     []RuleSpec     `yaml:"rules"`
	Fallback  fallback.Pools `yaml:",inline"`
}

// SmalltalkSpec configures generative replies.
type SmalltalkSpec struct {
	// Prompt is the system prompt sent with every small-talk request.
	Prompt string `yaml:"prompt"`

	// HistoryTurns is how many recent history entries are sent. Default 10.
	HistoryTurns int `yaml:"history_turns"`

	Temperature float64 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// RuleSpec is one rule as written in the file.
type RuleSpec struct {
	Name string      `yaml:"name"`
	If   TriggerSpec `yaml:"if"`
	Then ActionSpec  `yaml:"then"`
}

// TriggerSpec lists the conditions of a rule. Unset conditions are ignored;
// at least one must be set.
type TriggerSpec struct {
	// Anchor is rejected by [New]: phrases carrying a recognised order are
	// answered by order handlers and never reach the rules.
	Anchor string `yaml:"anchor"`

	Keywords *KeywordSpec `yaml:"keywords"`

	// Regex is matched against the normalised text. Named groups are
	// available to templates as .Groups.
	Regex string `yaml:"regex"`

	// Text matches when the phrase is similar to any of these texts.
	Text []string `yaml:"text"`

	// TextThreshold overrides the similarity needed by Text. Default 0.85.
	TextThreshold float64 `yaml:"text_threshold"`

	State *StateSpec `yaml:"state"`
}

// KeywordSpec matches on individual words of the phrase.
type KeywordSpec struct {
	Any []string `yaml:"any"`
	All []string `yaml:"all"`
}

// StateSpec matches a value in the session scratch map. An empty Equals
// matches when the key is absent.
type StateSpec struct {
	Key    string `yaml:"key"`
	Equals string `yaml:"equals"`
}

// ActionSpec describes the reply of a rule. Exactly one of Say, Template and
// Smalltalk must be set; Set is applied only when a reply was produced.
type ActionSpec struct {
	Say       []string          `yaml:"say"`
	Template  string            `yaml:"template"`
	Smalltalk bool              `yaml:"smalltalk"`
	Set       map[string]string `yaml:"set"`
}

// LoadFile reads a rules file.
func LoadFile(path string) (File, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return File{}, fmt.Errorf("rules: %w", err)
	}
	f, err := Parse(bytes.NewReader(data))
	if err != nil {
		return File{}, fmt.Errorf("rules: %s: %w", path, err)
	}
	return f, nil
}

// Parse decodes a rules file. Unknown fields are errors.
func Parse(r io.Reader) (File, error) {
	var f File
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&f); err != nil && !errors.Is(err, io.EOF) {
		return File{}, fmt.Errorf("decode: %w", err)
	}
	return f, nil
}
