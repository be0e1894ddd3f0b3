package store

import "testing"

func TestAutoResponseRule_Validate(t *testing.T) {
	tests := []struct {
		name    string
		rule    AutoResponseRule
		wantErr bool
	}{
		{"simple", AutoResponseRule{Name: "boas-vindas", ResponseText: "Olá!"}, false},
		{"missing name", AutoResponseRule{Name: "  ", ResponseText: "Olá!"}, true},
		{"simple without text", AutoResponseRule{Name: "x"}, true},
		{"bad trigger", AutoResponseRule{Name: "x", ResponseText: "y", TriggerType: "always"}, true},
		{"bad presentation", AutoResponseRule{Name: "x", ResponseText: "y", Presentation: "carousel"}, true},
		{"choice without question", AutoResponseRule{Name: "x", Presentation: PresentationMultipleChoice, OptionA: "a"}, true},
		{"choice without options", AutoResponseRule{Name: "x", Presentation: PresentationMultipleChoice, MainQuestion: "q"}, true},
		{"choice", AutoResponseRule{Name: "x", Presentation: PresentationMultipleChoice, MainQuestion: "q", OptionC: "c"}, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.rule.Validate()
			if (err != nil) != tt.wantErr {
				t.Fatalf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// TestAutoResponseRule_ValidateDefaults verifies empty enums get their defaults.
func TestAutoResponseRule_ValidateDefaults(t *testing.T) {
	r := AutoResponseRule{Name: " saudação ", ResponseText: "Oi"}
	if err := r.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if r.Name != "saudação" || r.TriggerType != TriggerFirstMessage || r.Presentation != PresentationSimple {
		t.Errorf("defaults not applied: %+v", r)
	}
}

func TestAutoResponseRule_Options(t *testing.T) {
	r := AutoResponseRule{OptionA: "a", OptionC: "c", OptionD: "d"}
	got := r.Options()
	if len(got) != 3 || got[0] != "a" || got[1] != "c" || got[2] != "d" {
		t.Errorf("Options() = %v", got)
	}
}
