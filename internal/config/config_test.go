package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	. "github.com/onsi/gomega"
)

func valid() *Config {
	cfg := DefaultConfig()
	cfg.ProtPSF = "prot.psf"
	cfg.ProtParam = "prot.yaml"
	cfg.RiboPSF = "ribo.psf"
	cfg.RiboParam = "ribo.yaml"
	cfg.StartingStrucs = "init.cor"
	cfg.TotalLength = 10
	cfg.UniformTA = 1
	cfg.UniformMFPT = 0.05
	return cfg
}

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()

	if cfg.Slots() != 20 {
		t.Errorf("expected 20 slots, got %d", cfg.Slots())
	}
	if cfg.Timestep <= 0 {
		t.Error("timestep should be positive")
	}
	if cfg.EjectWhen() != "chain_min_x >= 60" {
		t.Errorf("unexpected eject predicate %q", cfg.EjectWhen())
	}
	if err := valid().Validate(); err != nil {
		t.Errorf("expected valid config, got %v", err)
	}
}

func TestLoadOverlaysDefaults(t *testing.T) {
	g := NewWithT(t)
	path := filepath.Join(t.TempDir(), "ctrl.yaml")
	data := `
preset: smoke
tpn: 4
ppn: 2
num_traj: 3
scale_factor: 500000000.0
spherical_restraint_center: [1, 2, 3]
stop:
  eject: "chain_min_x >= 55"
`
	g.Expect(os.WriteFile(path, []byte(data), 0o644)).To(Succeed())

	cfg, err := Load(path)
	g.Expect(err).NotTo(HaveOccurred())
	g.Expect(cfg.Slots()).To(Equal(2))
	g.Expect(cfg.TrajIDs()).To(Equal([]int{1, 2, 3}))
	g.Expect(cfg.UniformTA).To(Equal(1))
	g.Expect(cfg.ScaleFactor).To(Equal(5e8))
	g.Expect(cfg.Timestep).To(Equal(DefaultTimestep))
	g.Expect(cfg.EjectWhen()).To(Equal("chain_min_x >= 55"))
	g.Expect(cfg.Stop.Dissociate).To(Equal("min_separation >= 20"))
	g.Expect(cfg.BuilderConfig().Restraints.SphereCenter[2]).To(Equal(3.0))
}

func TestLoadUnknownPreset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ctrl.yaml")
	if err := os.WriteFile(path, []byte("preset: nope\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Error("expected error for unknown preset")
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
		field  string
	}{
		{"tpn multiple", func(c *Config) { c.TPN, c.PPN = 5, 2 }, "tpn"},
		{"no trajectories", func(c *Config) { c.NumTraj = 0 }, "num_traj"},
		{"missing psf", func(c *Config) { c.ProtPSF = "" }, "prot_psf"},
		{"start length", func(c *Config) { c.StartLength = 0 }, "start_nascent_chain_length"},
		{"total below start", func(c *Config) { c.StartLength, c.TotalLength = 5, 3 }, "total_nascent_chain_length"},
		{"restart flag", func(c *Config) { c.Restart = 2 }, "restart"},
		{"uniform mfpt", func(c *Config) { c.UniformMFPT = 0 }, "uniform_mfpt"},
		{"codon files", func(c *Config) { c.UniformTA = 0 }, "mrna_seq"},
		{"uniform flag", func(c *Config) { c.UniformTA = 3 }, "uniform_ta"},
		{"traffic with uniform", func(c *Config) { c.RibosomeTraffic, c.InitiationRate = 1, 0.1 }, "ribosome_traffic"},
		{"initiation rate", func(c *Config) {
			c.UniformTA, c.MRNASeq, c.TransTimes = 0, "seq", "times"
			c.RibosomeTraffic = 1
		}, "initiation_rate"},
		{"mask", func(c *Config) { c.RiboFreeMask = "L24 : 59 - 42" }, "ribo_free_mask"},
		{"predicate", func(c *Config) { c.Stop.Dissociate = "min_separation >=" }, "stop.dissociate"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.modify(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !strings.Contains(err.Error(), "config: "+tt.field+":") {
				t.Errorf("expected error on %s, got %v", tt.field, err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestClampLength(t *testing.T) {
	cfg := valid()
	if cfg.ClampLength(20) {
		t.Error("length within the protein should not change")
	}
	if !cfg.ClampLength(7) || cfg.TotalLength != 7 {
		t.Errorf("expected total length clamped to 7, got %d", cfg.TotalLength)
	}
}

func TestPresets(t *testing.T) {
	names := ListPresets()
	if len(names) == 0 || names[0] != "ecoli" {
		t.Fatalf("unexpected presets %v", names)
	}
	if _, ok := GetPreset("nonexistent"); ok {
		t.Error("expected no preset")
	}
	cfg := DefaultConfig()
	if err := cfg.ApplyPreset("ecoli-uniform"); err != nil {
		t.Fatal(err)
	}
	if cfg.UniformTA != 1 || cfg.UniformMFPT != 0.05 {
		t.Errorf("preset not applied: %+v", cfg)
	}
}

func TestDerived(t *testing.T) {
	g := NewWithT(t)
	cfg := valid()
	cfg.NStepsSave = 250
	cfg.Engine.MaxConstructAttempts = 3

	sc := cfg.StageConfig("traj/4")
	g.Expect(sc.Dir).To(Equal("traj/4"))
	g.Expect(sc.ReportInterval).To(Equal(int64(250)))
	g.Expect(sc.MaxConstructAttempts).To(Equal(3))
	g.Expect(sc.Temperature).To(Equal(DefaultTemperature))

	ec := cfg.CycleConfig()
	g.Expect(ec.TargetLength).To(Equal(10))
	g.Expect(ec.Timing.Steps(cfg.TimeStage1)).To(BeNumerically(">", 0))
	g.Expect(cfg.PollInterval()).To(Equal(5 * time.Second))
	g.Expect(cfg.Layout().LogPath(3)).To(Equal(filepath.Join("output", "3.out")))

	head := cfg.Head(time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC))
	g.Expect(head).To(HavePrefix("Continuous Synthesis"))
	g.Expect(head).To(ContainSubstring("Uniform translation time will be used."))
	g.Expect(head).To(ContainSubstring("Scaling factor: 4375901"))
	g.Expect(head).To(ContainSubstring("No spherical restraint applied"))
}
