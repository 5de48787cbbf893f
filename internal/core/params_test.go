package core

import "testing"

func TestProtectionParams_Validate(t *testing.T) {
	valid := DefaultParams()
	if err := valid.Validate(); err != nil {
		t.Fatalf("default params should validate, got %v", err)
	}

	tests := []struct {
		name   string
		mutate func(*ProtectionParams)
		code   string
	}{
		{"min group too small", func(p *ProtectionParams) { p.MinGroupSize = 1 }, "MIN_GROUP_SIZE"},
		{"max below min", func(p *ProtectionParams) { p.MaxGroupSize = 2 }, "MAX_GROUP_SIZE"},
		{"negative age tolerance", func(p *ProtectionParams) { p.AgeTolerance = -1 }, "AGE_TOLERANCE"},
		{"zero epsilon", func(p *ProtectionParams) { p.Epsilon = 0 }, CodeNoiseCalibration},
		{"negative flip", func(p *ProtectionParams) { p.FlipProbability = -0.1 }, CodeNoiseCalibration},
		{"flip of one", func(p *ProtectionParams) { p.FlipProbability = 1 }, CodeNoiseCalibration},
		{"zero target", func(p *ProtectionParams) { p.TargetRisk = 0 }, "TARGET_RISK"},
		{"target of one", func(p *ProtectionParams) { p.TargetRisk = 1 }, "TARGET_RISK"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := DefaultParams()
			tt.mutate(&p)
			err := p.Validate()
			if !IsCode(err, tt.code) {
				t.Fatalf("Validate() = %v, want code %s", err, tt.code)
			}
		})
	}
}

// A flip probability just under the injector's exclusive upper bound must
// pass validation; exactly 1 must not, so a validated set can never fail
// calibration later.
func TestProtectionParams_FlipBoundMatchesInjector(t *testing.T) {
	p := DefaultParams()
	p.FlipProbability = 0.999
	if err := p.Validate(); err != nil {
		t.Fatalf("flip 0.999 should validate, got %v", err)
	}
	p.FlipProbability = 1
	if err := p.Validate(); err == nil {
		t.Fatal("flip of exactly 1 should be rejected")
	}
}
