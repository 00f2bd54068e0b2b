package schema

import (
	"encoding/json"
	"fmt"
	"strings"

	sjsonschema "github.com/santhosh-tekuri/jsonschema/v6"
)

// ValidationError represents a single validation error with location context.
type ValidationError struct {
	Phase    string `json:"phase"` // structural, semantic, domain
	Path     string `json:"path"`  // JSON-path-like location (e.g., "gates[0].checks")
	Message  string `json:"message"`
	Severity string `json:"severity"` // error, warning
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("[%s] %s: %s", e.Phase, e.Path, e.Message)
}

// ValidateFile performs the full 3-phase validation pipeline on a config file.
// Phase 1: Structural (strict YAML decode)
// Phase 2: Semantic (JSON Schema validation)
// Phase 3: Domain (custom Go rules)
func ValidateFile(path string) (*Config, []*ValidationError) {
	cfg, err := LoadFile(path)
	if err != nil {
		return nil, []*ValidationError{{
			Phase:    "structural",
			Message:  err.Error(),
			Severity: "error",
		}}
	}
	return cfg, Validate(cfg)
}

// Validate runs the semantic and domain phases on an already-parsed Config.
func Validate(cfg *Config) []*ValidationError {
	var allErrors []*ValidationError
	allErrors = append(allErrors, validateSemantic(cfg)...)
	allErrors = append(allErrors, ValidateDomain(cfg)...)
	return allErrors
}

// validateSemantic validates the config against the generated JSON Schema.
func validateSemantic(cfg *Config) []*ValidationError {
	fail := func(msg string) []*ValidationError {
		return []*ValidationError{{Phase: "semantic", Message: msg, Severity: "error"}}
	}

	data, err := json.Marshal(cfg)
	if err != nil {
		return fail(fmt.Sprintf("marshal for schema validation: %v", err))
	}

	schemaJSON, err := GenerateJSONSchema()
	if err != nil {
		return fail(fmt.Sprintf("generate schema: %v", err))
	}

	var schemaDoc interface{}
	if err := json.Unmarshal(schemaJSON, &schemaDoc); err != nil {
		return fail(fmt.Sprintf("unmarshal schema: %v", err))
	}

	c := sjsonschema.NewCompiler()
	if err := c.AddResource("console-v1.json", schemaDoc); err != nil {
		return fail(fmt.Sprintf("add schema resource: %v", err))
	}
	sch, err := c.Compile("console-v1.json")
	if err != nil {
		return fail(fmt.Sprintf("compile schema: %v", err))
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fail(fmt.Sprintf("unmarshal document: %v", err))
	}

	if err := sch.Validate(doc); err != nil {
		var errs []*ValidationError
		if ve, ok := err.(*sjsonschema.ValidationError); ok {
			for _, cause := range flattenValidationErrors(ve) {
				errs = append(errs, &ValidationError{
					Phase:    "semantic",
					Path:     strings.Join(cause.InstanceLocation, "/"),
					Message:  fmt.Sprintf("%v", cause.ErrorKind),
					Severity: "error",
				})
			}
		} else {
			errs = append(errs, &ValidationError{
				Phase:    "semantic",
				Message:  err.Error(),
				Severity: "error",
			})
		}
		return errs
	}
	return nil
}

// flattenValidationErrors recursively collects all leaf validation errors.
func flattenValidationErrors(ve *sjsonschema.ValidationError) []*sjsonschema.ValidationError {
	if len(ve.Causes) == 0 {
		return []*sjsonschema.ValidationError{ve}
	}
	var flat []*sjsonschema.ValidationError
	for _, cause := range ve.Causes {
		flat = append(flat, flattenValidationErrors(cause)...)
	}
	return flat
}

// checkFieldRequirements maps each check kind to the config field it needs.
var checkFieldRequirements = map[string]string{
	"credential-file-present":           "path",
	"required-keys-present-in-env-file": "path+keys",
	"directory-exists-and-writable":     "path",
	"command-on-path":                   "command",
	"file-nonempty":                     "path",
	"structured-file-contains-key":      "path+key",
}

// ValidateDomain performs Phase 3 domain-level validation.
// Returns a slice of errors; empty means valid.
func ValidateDomain(cfg *Config) []*ValidationError {
	var errs []*ValidationError
	addErr := func(path, msg string) {
		errs = append(errs, &ValidationError{Phase: "domain", Path: path, Message: msg, Severity: "error"})
	}

	if cfg.APIVersion != "console/v1" {
		addErr("apiVersion", fmt.Sprintf("unrecognized apiVersion %q, expected %q", cfg.APIVersion, "console/v1"))
	}

	// App IDs must be unique
	seenApps := make(map[string]bool)
	for i, app := range cfg.Apps {
		if app.ID == "" {
			addErr(fmt.Sprintf("apps[%d].id", i), "app id must not be empty")
			continue
		}
		if seenApps[app.ID] {
			addErr(fmt.Sprintf("apps[%d].id", i), fmt.Sprintf("duplicate app id %q", app.ID))
		}
		seenApps[app.ID] = true
	}

	// Profiles must reference catalogue apps
	seenProfiles := make(map[string]bool)
	for i, p := range cfg.Profiles {
		if seenProfiles[p.Name] {
			addErr(fmt.Sprintf("profiles[%d].name", i), fmt.Sprintf("duplicate profile %q", p.Name))
		}
		seenProfiles[p.Name] = true
		for j, id := range p.Apps {
			if !seenApps[id] {
				addErr(fmt.Sprintf("profiles[%d].apps[%d]", i, j), fmt.Sprintf("profile %q references unknown app %q", p.Name, id))
			}
		}
	}

	// Gates: unique names, known check kinds, per-kind fields present
	seenGates := make(map[string]bool)
	for i, g := range cfg.Gates {
		if seenGates[g.Name] {
			addErr(fmt.Sprintf("gates[%d].name", i), fmt.Sprintf("duplicate gate %q", g.Name))
		}
		seenGates[g.Name] = true
		if g.FailureClass != "" && g.FailureClass != "recoverable" && g.FailureClass != "fatal" {
			addErr(fmt.Sprintf("gates[%d].failure_class", i), fmt.Sprintf("failure_class %q, expected recoverable or fatal", g.FailureClass))
		}
		for j, ck := range g.Checks {
			req, known := checkFieldRequirements[ck.Kind]
			if !known {
				addErr(fmt.Sprintf("gates[%d].checks[%d].kind", i, j), fmt.Sprintf("unknown check kind %q", ck.Kind))
				continue
			}
			path := fmt.Sprintf("gates[%d].checks[%d]", i, j)
			if strings.Contains(req, "path") && ck.Path == "" {
				addErr(path, fmt.Sprintf("check kind %q requires path", ck.Kind))
			}
			if strings.Contains(req, "keys") && len(ck.Keys) == 0 {
				addErr(path, fmt.Sprintf("check kind %q requires keys", ck.Kind))
			}
			if strings.Contains(req, "command") && ck.Command == "" {
				addErr(path, fmt.Sprintf("check kind %q requires command", ck.Kind))
			}
			if strings.Contains(req, "+key") && ck.Key == "" {
				addErr(path, fmt.Sprintf("check kind %q requires key", ck.Kind))
			}
		}
	}

	// Pipelines: unique names, unique step names within each pipeline
	seenPipelines := make(map[string]bool)
	for i, p := range cfg.Pipelines {
		if seenPipelines[p.Name] {
			addErr(fmt.Sprintf("pipelines[%d].name", i), fmt.Sprintf("duplicate pipeline %q", p.Name))
		}
		seenPipelines[p.Name] = true
		seenSteps := make(map[string]bool)
		for j, s := range p.Steps {
			if s == "" {
				addErr(fmt.Sprintf("pipelines[%d].steps[%d]", i, j), "step name must not be empty")
			}
			if seenSteps[s] {
				addErr(fmt.Sprintf("pipelines[%d].steps[%d]", i, j), fmt.Sprintf("duplicate step %q in pipeline %q", s, p.Name))
			}
			seenSteps[s] = true
		}
	}

	return errs
}
