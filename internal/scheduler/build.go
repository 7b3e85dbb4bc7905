package scheduler

import (
	"fmt"

	"github.com/lsst-dm/ctrl-joboffice/internal/config"
	"github.com/lsst-dm/ctrl-joboffice/internal/idfilter"
	"github.com/lsst-dm/ctrl-joboffice/internal/trigger"
)

// BuildTriggers turns a configured list of trigger records into Triggers,
// one per record, each restricted to its DatasetType and carrying one
// IDFilter per configured identifier built via idfilter.FromConfig — so a
// deployment can configure a closed or Integer-range filter, not only an
// unconstrained one. A Trigger is IsClosed()==true only if every one of its
// configured identifiers resolves to a closed filter; otherwise IO-mode
// expansion must be called with a template that already supplies the
// unclosed ones.
func BuildTriggers(specs []config.TriggerSpec) ([]*trigger.Trigger, error) {
	triggers := make([]*trigger.Trigger, 0, len(specs))
	for _, spec := range specs {
		var types []string
		if spec.DatasetType != "" {
			types = []string{spec.DatasetType}
		}
		t := trigger.New(types, types)
		for _, idcfg := range spec.ID {
			f, err := idfilter.FromConfig(idcfg)
			if err != nil {
				return nil, fmt.Errorf("trigger %s id %s: %w", spec.DatasetType, idcfg.Name, err)
			}
			t.AddFilter(f)
		}
		triggers = append(triggers, t)
	}
	return triggers, nil
}

// BuildIdentityConfig converts the configured job-identity rule.
func BuildIdentityConfig(id config.JobIdentity) IdentityConfig {
	return IdentityConfig{TemplateType: id.TemplateType, Type: id.Type, ID: id.ID}
}

// BuildNameConfig converts the configured job-naming rule.
func BuildNameConfig(name config.JobName) NameConfig {
	return NameConfig{Default: name.Default, Template: name.Template, InitCounter: name.InitCounter}
}
