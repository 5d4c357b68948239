package config

import (
	"bytes"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Actions the engine knows how to perform. A case type opts in to an action by
// listing it under transitions.
const (
	ActionUpdateChecklist     = "update_checklist"
	ActionCheckServiceability = "check_serviceability"
	ActionScheduleInspection  = "schedule_inspection"
	ActionCompleteInspection  = "complete_inspection"
	ActionIssue               = "issue"
	ActionActivate            = "activate"
	ActionRequestRenewal      = "request_renewal"
	ActionRenew               = "renew"
	ActionReject              = "reject"
	ActionClose               = "close"
)

var knownActions = []string{
	ActionUpdateChecklist,
	ActionCheckServiceability,
	ActionScheduleInspection,
	ActionCompleteInspection,
	ActionIssue,
	ActionActivate,
	ActionRequestRenewal,
	ActionRenew,
	ActionReject,
	ActionClose,
}

// Config models parcelflow.yml: the per-case-type transition tables.
type Config struct {
	CaseTypes map[string]CaseType `yaml:"case_types" json:"case_types"`
	Webhooks  []WebhookConfig     `yaml:"webhooks,omitempty" json:"webhooks,omitempty"`
}

type CaseType struct {
	Label             string                `yaml:"label" json:"label"`
	Prefix            string                `yaml:"prefix" json:"prefix"`
	CertificatePrefix string                `yaml:"certificate_prefix" json:"certificate_prefix"`
	NumberLabel       string                `yaml:"number_label" json:"number_label"`
	Document          string                `yaml:"document" json:"document"`
	Initial           string                `yaml:"initial" json:"initial"`
	Issued            string                `yaml:"issued" json:"issued"`
	Terminal          []string              `yaml:"terminal" json:"terminal"`
	Checklist         []string              `yaml:"checklist,omitempty" json:"checklist,omitempty"`
	Transitions       map[string]Transition `yaml:"transitions" json:"transitions"`
}

type Transition struct {
	From   []string `yaml:"from" json:"from"`
	To     string   `yaml:"to" json:"to"`
	OnFail string   `yaml:"on_fail,omitempty" json:"on_fail,omitempty"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url" json:"url"`
	Events         []string `yaml:"events,omitempty" json:"events,omitempty"`
	CaseTypes      []string `yaml:"case_types,omitempty" json:"case_types,omitempty"`
	Secret         string   `yaml:"secret,omitempty" json:"secret,omitempty"`
	Enabled        *bool    `yaml:"enabled,omitempty" json:"enabled,omitempty"`
	TimeoutSeconds int      `yaml:"timeout_seconds,omitempty" json:"timeout_seconds,omitempty"`
}

// Allows reports whether the transition may fire from status.
func (t Transition) Allows(status string) bool {
	return slices.Contains(t.From, status)
}

func (ct CaseType) IsTerminal(status string) bool {
	return slices.Contains(ct.Terminal, status)
}

func (ct CaseType) Transition(action string) (Transition, bool) {
	t, ok := ct.Transitions[action]
	return t, ok
}

// AllowedActions lists the actions that may fire from status, sorted.
func (ct CaseType) AllowedActions(status string) []string {
	var res []string
	for action, t := range ct.Transitions {
		if t.Allows(status) {
			res = append(res, action)
		}
	}
	sort.Strings(res)
	return res
}

// Statuses returns every status named by the case type, sorted.
func (ct CaseType) Statuses() []string {
	set := map[string]struct{}{ct.Initial: {}, ct.Issued: {}}
	for _, s := range ct.Terminal {
		set[s] = struct{}{}
	}
	for _, t := range ct.Transitions {
		set[t.To] = struct{}{}
		if t.OnFail != "" {
			set[t.OnFail] = struct{}{}
		}
		for _, s := range t.From {
			set[s] = struct{}{}
		}
	}
	res := make([]string, 0, len(set))
	for s := range set {
		res = append(res, s)
	}
	sort.Strings(res)
	return res
}

// CaseType looks up a case type by name.
func (c *Config) CaseType(name string) (CaseType, bool) {
	if c == nil {
		return CaseType{}, false
	}
	ct, ok := c.CaseTypes[name]
	return ct, ok
}

// CaseTypeNames returns configured case type names, sorted.
func (c *Config) CaseTypeNames() []string {
	names := make([]string, 0, len(c.CaseTypes))
	for name := range c.CaseTypes {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if len(c.CaseTypes) == 0 {
		return fmt.Errorf("config.case_types is required")
	}
	prefixes := map[string]string{}
	for _, name := range c.CaseTypeNames() {
		ct := c.CaseTypes[name]
		if err := validatePrefix(ct.Prefix); err != nil {
			return fmt.Errorf("case type %s: prefix: %w", name, err)
		}
		if err := validatePrefix(ct.CertificatePrefix); err != nil {
			return fmt.Errorf("case type %s: certificate_prefix: %w", name, err)
		}
		for _, p := range []string{ct.Prefix, ct.CertificatePrefix} {
			if owner, ok := prefixes[p]; ok {
				return fmt.Errorf("case type %s reuses prefix %s of %s", name, p, owner)
			}
			prefixes[p] = name
		}
		if ct.Initial == "" {
			return fmt.Errorf("case type %s: initial status is required", name)
		}
		if ct.Issued == "" {
			return fmt.Errorf("case type %s: issued status is required", name)
		}
		if len(ct.Terminal) == 0 {
			return fmt.Errorf("case type %s: at least one terminal status is required", name)
		}
		if ct.IsTerminal(ct.Initial) {
			return fmt.Errorf("case type %s: initial status %s cannot be terminal", name, ct.Initial)
		}
		issue, ok := ct.Transitions[ActionIssue]
		if !ok {
			return fmt.Errorf("case type %s: issue transition is required", name)
		}
		if issue.To != ct.Issued {
			return fmt.Errorf("case type %s: issue moves to %s but issued status is %s", name, issue.To, ct.Issued)
		}
		for _, key := range ct.Checklist {
			if strings.TrimSpace(key) == "" {
				return fmt.Errorf("case type %s has empty checklist key", name)
			}
		}
		for action, t := range ct.Transitions {
			if !slices.Contains(knownActions, action) {
				return fmt.Errorf("case type %s: unknown action %s", name, action)
			}
			if len(t.From) == 0 {
				return fmt.Errorf("case type %s: action %s has no from statuses", name, action)
			}
			if t.To == "" {
				return fmt.Errorf("case type %s: action %s has no target status", name, action)
			}
			for _, from := range t.From {
				if ct.IsTerminal(from) {
					return fmt.Errorf("case type %s: action %s leaves terminal status %s", name, action, from)
				}
			}
			if t.OnFail != "" && action != ActionCompleteInspection {
				return fmt.Errorf("case type %s: on_fail only applies to %s", name, ActionCompleteInspection)
			}
		}
	}
	for i, hook := range c.Webhooks {
		if strings.TrimSpace(hook.URL) == "" {
			return fmt.Errorf("webhook %d: url is required", i)
		}
		for _, name := range hook.CaseTypes {
			if _, ok := c.CaseTypes[name]; !ok {
				return fmt.Errorf("webhook %d: unknown case type %q", i, name)
			}
		}
	}
	return nil
}

func validatePrefix(p string) error {
	if p == "" {
		return fmt.Errorf("must not be empty")
	}
	if strings.ContainsAny(p, " \t\r\n") {
		return fmt.Errorf("%q must not contain whitespace", p)
	}
	return nil
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "parcelflow.yml")
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; import with parcelflow config import --file <path>", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns nil,nil if the config file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the built-in case type tables.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	for name, ct := range cfg.CaseTypes {
		if ct.NumberLabel == "" {
			ct.NumberLabel = "request_no"
		}
		if ct.CertificatePrefix == "" && ct.Prefix != "" {
			ct.CertificatePrefix = ct.Prefix + "-CERT"
		}
		cfg.CaseTypes[name] = ct
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// FromFile reads YAML config from the given path.
func FromFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return FromYAML(data)
}

const defaultTemplate = `shared:
  update_checklist: &update_checklist
    from: [draft, checklist_pending]
    to: checklist_pending
  schedule_inspection: &schedule_inspection
    from: [draft, checklist_pending]
    to: inspection_scheduled
  complete_inspection: &complete_inspection
    from: [inspection_scheduled]
    to: inspection_completed
  reject: &reject
    from: [draft, checklist_pending, inspection_scheduled, inspection_completed]
    to: rejected
  connection: &connection
    check_serviceability:
      from: [applied]
      to: serviceability_checked
    schedule_inspection:
      from: [serviceability_checked, inspection_scheduled]
      to: inspection_scheduled
    complete_inspection:
      from: [inspection_scheduled]
      to: inspection_completed
      on_fail: applied
    issue:
      from: [inspection_completed]
      to: sanctioned
    activate:
      from: [sanctioned]
      to: active
    request_renewal:
      from: [active]
      to: renewal_pending
    renew:
      from: [renewal_pending]
      to: active
    close:
      from: [active, renewal_pending]
      to: closed
    reject:
      from: [applied, serviceability_checked, inspection_scheduled, inspection_completed, sanctioned, active, renewal_pending]
      to: rejected

case_types:
  demarcation:
    label: Demarcation Request
    prefix: DEM
    certificate_prefix: DEM-CERT
    number_label: request_no
    document: Demarcation Certificate
    initial: draft
    issued: certificate_issued
    terminal: [certificate_issued, rejected]
    checklist: [siteVisible, boundaryMarked]
    transitions:
      update_checklist: *update_checklist
      schedule_inspection: *schedule_inspection
      complete_inspection: *complete_inspection
      issue:
        from: [inspection_completed]
        to: certificate_issued
      reject: *reject

  dpc:
    label: DPC Request
    prefix: DPC
    certificate_prefix: DPC-CERT
    number_label: request_no
    document: Damp Proof Course Certificate
    initial: draft
    issued: certificate_issued
    terminal: [certificate_issued, rejected]
    checklist: [plinthLevelMarked, setbacksVerified]
    transitions:
      update_checklist: *update_checklist
      schedule_inspection: *schedule_inspection
      complete_inspection: *complete_inspection
      issue:
        from: [inspection_completed]
        to: certificate_issued
      reject: *reject

  occupancy_certificate:
    label: Occupancy Certificate
    prefix: OC
    certificate_prefix: OC-CERT
    number_label: request_no
    document: Occupancy Certificate
    initial: draft
    issued: certificate_issued
    terminal: [certificate_issued, rejected]
    checklist: [structureComplete, fireSafety, setbacksVerified]
    transitions:
      update_checklist: *update_checklist
      schedule_inspection: *schedule_inspection
      complete_inspection: *complete_inspection
      issue:
        from: [inspection_completed]
        to: certificate_issued
      reject: *reject

  completion_certificate:
    label: Completion Certificate
    prefix: CC
    certificate_prefix: CC-CERT
    number_label: request_no
    document: Completion Certificate
    initial: draft
    issued: certificate_issued
    terminal: [certificate_issued, rejected]
    checklist: [structureComplete, servicesConnected]
    transitions:
      update_checklist: *update_checklist
      schedule_inspection: *schedule_inspection
      complete_inspection: *complete_inspection
      issue:
        from: [inspection_completed]
        to: certificate_issued
      reject: *reject

  transfer:
    label: Transfer
    prefix: TRF
    certificate_prefix: TRF-DEED
    number_label: request_no
    document: Transfer Deed
    initial: draft
    issued: completed
    terminal: [completed, rejected]
    checklist: [nocObtained, duesCleared, stampDutyPaid]
    transitions:
      update_checklist: *update_checklist
      schedule_inspection: *schedule_inspection
      complete_inspection: *complete_inspection
      issue:
        from: [inspection_completed]
        to: completed
      reject: *reject

  mortgage:
    label: Mortgage
    prefix: MTG
    certificate_prefix: MTG-LTR
    number_label: letter_no
    document: Mortgage Permission Letter
    initial: draft
    issued: approved
    terminal: [approved, rejected]
    checklist: [titleVerified, valuationDone]
    transitions:
      update_checklist: *update_checklist
      schedule_inspection: *schedule_inspection
      complete_inspection: *complete_inspection
      issue:
        from: [inspection_completed]
        to: approved
      reject: *reject

  registration:
    label: Registration Case
    prefix: REG
    certificate_prefix: REG-CERT
    number_label: request_no
    document: Registration Certificate
    initial: draft
    issued: completed
    terminal: [completed, rejected]
    checklist: [documentsVerified, feePaid]
    transitions:
      update_checklist: *update_checklist
      schedule_inspection: *schedule_inspection
      complete_inspection: *complete_inspection
      issue:
        from: [inspection_completed]
        to: completed
      reject: *reject

  water_connection:
    label: Water Connection
    prefix: WTR
    certificate_prefix: WTR-SNC
    number_label: connection_no
    document: Water Connection Sanction
    initial: applied
    issued: sanctioned
    terminal: [closed, rejected]
    transitions: *connection

  sewerage_connection:
    label: Sewerage Connection
    prefix: SEW
    certificate_prefix: SEW-SNC
    number_label: connection_no
    document: Sewerage Connection Sanction
    initial: applied
    issued: sanctioned
    terminal: [closed, rejected]
    transitions: *connection
`
