package config

import (
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/gosimple/slug"
	"github.com/spf13/viper"
)

// EventPolicy maps an engagement event type to its reward behavior.
type EventPolicy struct {
	Type     string `mapstructure:"type"`
	Points   int64  `mapstructure:"points"`
	Reason   string `mapstructure:"reason"`
	Streak   bool   `mapstructure:"streak"`
	Referral bool   `mapstructure:"referral"`
}

// MilestoneDefinition unlocks a reward once a referral count is reached.
type MilestoneDefinition struct {
	ThresholdCount int               `mapstructure:"thresholdCount"`
	RewardKey      string            `mapstructure:"rewardKey"`
	RewardPayload  map[string]string `mapstructure:"rewardPayload"`
}

// RewardsConfig is the static reward definition table.
type RewardsConfig struct {
	Events          []EventPolicy         `mapstructure:"events"`
	LevelThresholds []int64               `mapstructure:"levelThresholds"`
	Milestones      []MilestoneDefinition `mapstructure:"milestones"`
}

func DefaultRewardsConfig() RewardsConfig {
	return RewardsConfig{
		Events: []EventPolicy{
			{Type: "upload", Points: 25, Reason: "upload", Streak: true},
			{Type: "download", Points: 5, Reason: "download", Streak: true},
			{Type: "login", Points: 2, Reason: "daily_login", Streak: true},
			{Type: "referral_signup", Points: 50, Reason: "referral_signup", Referral: true},
			{Type: "referral_upload", Points: 25, Reason: "referral_upload", Referral: true},
		},
		LevelThresholds: []int64{0, 100, 500, 1500, 5000, 15000},
		Milestones: []MilestoneDefinition{
			{ThresholdCount: 3, RewardKey: "ai_month"},
			{ThresholdCount: 10, RewardKey: "premium_lifetime"},
			{ThresholdCount: 50, RewardKey: "cash_500"},
		},
	}
}

// RewardsHolder exposes the current reward definitions. Event policies and
// level thresholds hot-reload on file change; milestone definitions are fixed
// for the process lifetime so in-flight grants never race a definition swap.
type RewardsHolder struct {
	current    atomic.Value // holds RewardsConfig
	milestones []MilestoneDefinition
}

func NewRewardsHolder(cfg Config) (*RewardsHolder, error) {
	v := viper.New()

	v.SetConfigName("rewards")
	v.SetConfigType("yml")
	if path := strings.TrimSpace(cfg.RewardsConfigPath); path != "" {
		v.AddConfigPath(path)
	}
	v.AddConfigPath("/etc/engage")
	v.AddConfigPath(".")

	v.SetEnvPrefix("ENGAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	watch := true
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		watch = false
		defaults := DefaultRewardsConfig()
		v.SetDefault("rewards.events", defaults.Events)
		v.SetDefault("rewards.levelThresholds", defaults.LevelThresholds)
		v.SetDefault("rewards.milestones", defaults.Milestones)
	}

	var rewards RewardsConfig
	if err := v.UnmarshalKey("rewards", &rewards); err != nil {
		return nil, err
	}
	normalizeRewards(&rewards)
	if err := validateRewardsConfig(rewards); err != nil {
		return nil, err
	}

	holder := &RewardsHolder{milestones: rewards.Milestones}
	holder.current.Store(rewards)

	if watch {
		v.WatchConfig()
		v.OnConfigChange(func(e fsnotify.Event) {
			var updated RewardsConfig
			if err := v.UnmarshalKey("rewards", &updated); err != nil {
				log.Printf("[rewards-config] reload failed: %v", err)
				return
			}
			normalizeRewards(&updated)
			// milestones stay pinned to the startup definitions
			updated.Milestones = holder.milestones
			if err := validateRewardsConfig(updated); err != nil {
				log.Printf("[rewards-config] invalid config ignored: %v", err)
				return
			}
			holder.current.Store(updated)
			log.Printf("[rewards-config] reloaded from %s", e.Name)
		})
	}

	return holder, nil
}

// NewStaticRewardsHolder builds a holder from an in-memory definition. Used in tests.
func NewStaticRewardsHolder(rewards RewardsConfig) (*RewardsHolder, error) {
	normalizeRewards(&rewards)
	if err := validateRewardsConfig(rewards); err != nil {
		return nil, err
	}
	holder := &RewardsHolder{milestones: rewards.Milestones}
	holder.current.Store(rewards)
	return holder, nil
}

func (h *RewardsHolder) Get() RewardsConfig {
	return h.current.Load().(RewardsConfig)
}

// EventPolicy returns the policy for an event type, if configured.
func (h *RewardsHolder) EventPolicy(eventType string) (EventPolicy, bool) {
	for _, policy := range h.Get().Events {
		if policy.Type == eventType {
			return policy, true
		}
	}
	return EventPolicy{}, false
}

func (h *RewardsHolder) LevelThresholds() []int64 {
	return h.Get().LevelThresholds
}

// Milestones returns milestone definitions in ascending threshold order.
func (h *RewardsHolder) Milestones() []MilestoneDefinition {
	return h.milestones
}

func normalizeRewards(rewards *RewardsConfig) {
	for i := range rewards.Events {
		rewards.Events[i].Type = strings.TrimSpace(rewards.Events[i].Type)
		rewards.Events[i].Reason = strings.TrimSpace(rewards.Events[i].Reason)
	}
	for i := range rewards.Milestones {
		rewards.Milestones[i].RewardKey = slug.Make(rewards.Milestones[i].RewardKey)
	}
	sort.SliceStable(rewards.Milestones, func(i, j int) bool {
		return rewards.Milestones[i].ThresholdCount < rewards.Milestones[j].ThresholdCount
	})
}

func validateRewardsConfig(rewards RewardsConfig) error {
	if len(rewards.Events) == 0 {
		return errors.New("rewards.events cannot be empty")
	}
	seenTypes := make(map[string]struct{}, len(rewards.Events))
	for _, policy := range rewards.Events {
		if policy.Type == "" {
			return errors.New("rewards.events entry is missing a type")
		}
		if policy.Reason == "" {
			return fmt.Errorf("rewards.events %q is missing a reason", policy.Type)
		}
		if _, ok := seenTypes[policy.Type]; ok {
			return fmt.Errorf("rewards.events %q is defined twice", policy.Type)
		}
		seenTypes[policy.Type] = struct{}{}
	}

	if len(rewards.LevelThresholds) == 0 {
		return errors.New("rewards.levelThresholds cannot be empty")
	}
	if rewards.LevelThresholds[0] != 0 {
		return errors.New("rewards.levelThresholds must start at 0")
	}
	for i := 1; i < len(rewards.LevelThresholds); i++ {
		if rewards.LevelThresholds[i] <= rewards.LevelThresholds[i-1] {
			return errors.New("rewards.levelThresholds must be strictly increasing")
		}
	}

	seenKeys := make(map[string]struct{}, len(rewards.Milestones))
	lastThreshold := 0
	for _, def := range rewards.Milestones {
		if def.ThresholdCount <= 0 {
			return fmt.Errorf("milestone %q threshold must be positive", def.RewardKey)
		}
		if def.ThresholdCount <= lastThreshold {
			return errors.New("milestone thresholds must be strictly increasing")
		}
		lastThreshold = def.ThresholdCount
		if def.RewardKey == "" {
			return fmt.Errorf("milestone at threshold %d is missing a reward key", def.ThresholdCount)
		}
		if _, ok := seenKeys[def.RewardKey]; ok {
			return fmt.Errorf("milestone reward key %q is defined twice", def.RewardKey)
		}
		seenKeys[def.RewardKey] = struct{}{}
	}

	return nil
}
