package config

import (
	"errors"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

// ProgramConfig carries the commercial terms of the referral program.
type ProgramConfig struct {
	CodePrefix        string        `mapstructure:"codePrefix"`
	CodeLength        int           `mapstructure:"codeLength"`
	RewardExpiresDays int           `mapstructure:"rewardExpiresDays"`
	Referrer          RewardTerms   `mapstructure:"referrer"`
	Referred          RewardTerms   `mapstructure:"referred"`
	Reconcile         ReconcileTerm `mapstructure:"reconcile"`
}

// RewardTerms describes what one side of a referral receives.
type RewardTerms struct {
	Type        string  `mapstructure:"type"`
	Amount      float64 `mapstructure:"amount"`
	Description string  `mapstructure:"description"`
}

// ReconcileTerm controls the sweep that re-requests missing reward emissions.
type ReconcileTerm struct {
	GraceMinutes int `mapstructure:"graceMinutes"`
}

func programFromEnv() ProgramConfig {
	return ProgramConfig{
		CodePrefix:        strings.TrimSpace(getenv("REFERRAL_CODE_PREFIX", "JUSTO")),
		CodeLength:        getenvInt("REFERRAL_CODE_LENGTH", 8),
		RewardExpiresDays: getenvInt("REFERRAL_REWARD_EXPIRES_DAYS", 90),
		Referrer: RewardTerms{
			Type:        strings.ToUpper(getenv("REFERRAL_REWARD_REFERRER_TYPE", "credits")),
			Amount:      getenvFloat("REFERRAL_REWARD_REFERRER_AMOUNT", 500),
			Description: getenv("REFERRAL_REWARD_REFERRER_DESCRIPTION", "500 en créditos por referir"),
		},
		Referred: RewardTerms{
			Type:        strings.ToUpper(getenv("REFERRAL_REWARD_REFERRED_TYPE", "fee_waiver")),
			Amount:      getenvFloat("REFERRAL_REWARD_REFERRED_AMOUNT", 0),
			Description: getenv("REFERRAL_REWARD_REFERRED_DESCRIPTION", "30 días sin comisión"),
		},
		Reconcile: ReconcileTerm{
			GraceMinutes: getenvInt("REFERRAL_RECONCILE_GRACE_MINUTES", 15),
		},
	}
}

// ProgramHolder serves the current program terms. Terms start from the
// environment and may be overridden by a referral.yml that is watched for changes.
type ProgramHolder struct {
	current atomic.Value // holds ProgramConfig
}

// NewStaticProgramHolder returns a holder that never reloads.
func NewStaticProgramHolder(cfg ProgramConfig) *ProgramHolder {
	holder := &ProgramHolder{}
	holder.current.Store(cfg.withDefaults())
	return holder
}

func NewProgramHolder(cfg Config, log *zap.Logger) (*ProgramHolder, error) {
	v := viper.New()

	v.SetConfigName("referral")
	v.SetConfigType("yml")
	v.AddConfigPath("/etc/referrals")
	v.AddConfigPath(".")

	v.SetEnvPrefix("REFERRALS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	defaults := cfg.Program

	holder := &ProgramHolder{}
	holder.current.Store(defaults.withDefaults())

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			return holder, nil
		}
		return nil, err
	}

	loaded, err := decodeProgram(v, defaults)
	if err != nil {
		return nil, err
	}
	holder.current.Store(loaded)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		updated, err := decodeProgram(v, defaults)
		if err != nil {
			log.Warn("referral program reload rejected", zap.String("file", e.Name), zap.Error(err))
			return
		}
		holder.current.Store(updated)
		log.Info("referral program reloaded", zap.String("file", e.Name))
	})

	return holder, nil
}

func (h *ProgramHolder) Get() ProgramConfig {
	return h.current.Load().(ProgramConfig)
}

func decodeProgram(v *viper.Viper, base ProgramConfig) (ProgramConfig, error) {
	cfg := base
	if err := v.UnmarshalKey("program", &cfg); err != nil {
		return ProgramConfig{}, err
	}
	cfg.Referrer.Type = strings.ToUpper(strings.TrimSpace(cfg.Referrer.Type))
	cfg.Referred.Type = strings.ToUpper(strings.TrimSpace(cfg.Referred.Type))
	cfg = cfg.withDefaults()
	if err := validateProgram(cfg); err != nil {
		return ProgramConfig{}, err
	}
	return cfg, nil
}

func (c ProgramConfig) withDefaults() ProgramConfig {
	if strings.TrimSpace(c.CodePrefix) == "" {
		c.CodePrefix = "JUSTO"
	}
	if c.CodeLength <= 0 {
		c.CodeLength = 8
	}
	if c.RewardExpiresDays <= 0 {
		c.RewardExpiresDays = 90
	}
	if c.Reconcile.GraceMinutes <= 0 {
		c.Reconcile.GraceMinutes = 15
	}
	return c
}

func validateProgram(cfg ProgramConfig) error {
	if cfg.Referrer.Type == "" || cfg.Referred.Type == "" {
		return errors.New("program reward types cannot be empty")
	}
	if !knownRewardType(cfg.Referrer.Type) || !knownRewardType(cfg.Referred.Type) {
		return errors.New("program reward type must be one of CREDITS, DISCOUNT, FEE_WAIVER, CUSTOM")
	}
	if cfg.Referrer.Amount < 0 || cfg.Referred.Amount < 0 {
		return errors.New("program reward amounts cannot be negative")
	}
	return nil
}

func knownRewardType(value string) bool {
	switch value {
	case "CREDITS", "DISCOUNT", "FEE_WAIVER", "CUSTOM":
		return true
	default:
		return false
	}
}
