package bridge

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"
)

// Instructions holds the host-authored texts injected into the agent's
// input stream: the session priming message, the end-of-session wrap-up,
// and the per-message language-mode suffixes. Loadable from a YAML file;
// missing fields fall back to the built-in defaults.
type Instructions struct {
	Priming      string `yaml:"priming"`
	WrapUp       string `yaml:"wrapUp"`
	TargetSuffix string `yaml:"targetSuffix"`
	NativeSuffix string `yaml:"nativeSuffix"`
}

// DefaultInstructions returns the built-in instruction set.
func DefaultInstructions() *Instructions {
	return &Instructions{
		Priming: "You are tutoring the topic {topic}. If this topic has no notes yet, " +
			"begin onboarding the learner; otherwise review the notes and resume planning " +
			"from where the last session left off.",
		WrapUp: "The learner is ending this session. Write your final notes now: update " +
			"the topic artifacts and record a session log, then finish your turn.",
		TargetSuffix: "Reply in the target language of this topic.",
		NativeSuffix: "Reply in the learner's native language.",
	}
}

// LoadInstructions reads an instruction file, overlaying the defaults.
func LoadInstructions(path string) (*Instructions, error) {
	instr := DefaultInstructions()
	if path == "" {
		return instr, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read instructions: %w", err)
	}

	var loaded Instructions
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("parse instructions: %w", err)
	}

	if loaded.Priming != "" {
		instr.Priming = loaded.Priming
	}
	if loaded.WrapUp != "" {
		instr.WrapUp = loaded.WrapUp
	}
	if loaded.TargetSuffix != "" {
		instr.TargetSuffix = loaded.TargetSuffix
	}
	if loaded.NativeSuffix != "" {
		instr.NativeSuffix = loaded.NativeSuffix
	}

	return instr, nil
}

// PrimingFor renders the priming instruction for a topic.
func (i *Instructions) PrimingFor(topic string) string {
	return strings.ReplaceAll(i.Priming, "{topic}", topic)
}

// Decorate appends the language-mode suffix to an outbound message.
func (i *Instructions) Decorate(text string, targetLanguage bool) string {
	suffix := i.NativeSuffix
	if targetLanguage {
		suffix = i.TargetSuffix
	}
	if suffix == "" {
		return text
	}
	return text + "\n\n[" + suffix + "]"
}
