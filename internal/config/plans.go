package config

import (
	"errors"
	"log"
	"strings"
	"sync/atomic"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
)

// PlanQuota defines the per-period creative generation allowance for a plan.
type PlanQuota struct {
	Code                 string `mapstructure:"code"`
	GenerationsPerPeriod int64  `mapstructure:"generationsPerPeriod"`
}

// PlanCatalog is the full plan quota table.
type PlanCatalog struct {
	Plans []PlanQuota `mapstructure:"plans"`
}

func DefaultPlanCatalog() PlanCatalog {
	return PlanCatalog{
		Plans: []PlanQuota{
			{Code: "prototype", GenerationsPerPeriod: 25},
			{Code: "operator", GenerationsPerPeriod: 150},
			{Code: "foundry", GenerationsPerPeriod: 600},
		},
	}
}

// PlanCatalogHolder serves the current catalog to hot paths without locking.
type PlanCatalogHolder struct {
	current atomic.Value // holds PlanCatalog
}

func NewPlanCatalogHolder() (*PlanCatalogHolder, error) {
	v := viper.New()

	v.SetConfigName("plans")
	v.SetConfigType("yml")
	v.AddConfigPath("/var/lib/reelfoundry/config") // Volume-mounted config
	v.AddConfigPath("/etc/reelfoundry")            // System config
	v.AddConfigPath(".")                           // Current directory (dev mode)

	v.SetEnvPrefix("REELFOUNDRY")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, err
		}
		defaults := DefaultPlanCatalog()
		v.SetDefault("billing.plans", defaults.Plans)
	}

	var catalog PlanCatalog
	if err := v.UnmarshalKey("billing", &catalog); err != nil {
		return nil, err
	}
	if err := validatePlanCatalog(catalog); err != nil {
		return nil, err
	}

	holder := &PlanCatalogHolder{}
	holder.current.Store(catalog)

	v.WatchConfig()
	v.OnConfigChange(func(e fsnotify.Event) {
		var updated PlanCatalog
		if err := v.UnmarshalKey("billing", &updated); err != nil {
			log.Printf("[plan-catalog] reload failed: %v", err)
			return
		}
		if err := validatePlanCatalog(updated); err != nil {
			log.Printf("[plan-catalog] invalid config ignored: %v", err)
			return
		}
		holder.current.Store(updated)
		log.Printf("[plan-catalog] reloaded from %s", e.Name)
	})

	return holder, nil
}

// NewStaticPlanCatalogHolder serves a fixed catalog with no file watching.
func NewStaticPlanCatalogHolder(catalog PlanCatalog) (*PlanCatalogHolder, error) {
	if err := validatePlanCatalog(catalog); err != nil {
		return nil, err
	}
	holder := &PlanCatalogHolder{}
	holder.current.Store(catalog)
	return holder, nil
}

func (h *PlanCatalogHolder) Get() PlanCatalog {
	return h.current.Load().(PlanCatalog)
}

// LimitFor returns the generation allowance for a plan code. Unknown plans
// (including "none") get a zero allowance.
func (h *PlanCatalogHolder) LimitFor(planCode string) int64 {
	planCode = strings.ToLower(strings.TrimSpace(planCode))
	for _, plan := range h.Get().Plans {
		if plan.Code == planCode {
			return plan.GenerationsPerPeriod
		}
	}
	return 0
}

func validatePlanCatalog(catalog PlanCatalog) error {
	if len(catalog.Plans) == 0 {
		return errors.New("billing.plans cannot be empty")
	}
	for _, plan := range catalog.Plans {
		if strings.TrimSpace(plan.Code) == "" {
			return errors.New("billing.plans entries need a code")
		}
		if plan.GenerationsPerPeriod < 0 {
			return errors.New("billing.plans allowances cannot be negative")
		}
	}
	return nil
}
