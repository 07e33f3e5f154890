package schema

import (
	"bytes"
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"
	"github.com/go-playground/validator/v10"

	"github.com/aura-hunt/backend/internal/migration"
	"github.com/aura-hunt/backend/internal/models"
)

// Slug must be lowercase alphanumeric and hyphens only, 2–64 chars.
var slugRegex = regexp.MustCompile(`^[a-z0-9][a-z0-9-]{1,63}$`)

// ValidSlug reports whether s is a valid organization or hunt slug.
func ValidSlug(s string) bool { return slugRegex.MatchString(s) }

// Options control Validate.
type Options struct {
	// AutoMigrate upgrades outdated documents instead of rejecting them.
	AutoMigrate bool
	// Strict rejects null values and unknown fields instead of coercing them.
	Strict bool
	// IncludeWarnings fills Result.Warnings.
	IncludeWarnings bool
}

// FieldError is one structural problem, addressed by its JSON path.
type FieldError struct {
	Path    string `json:"path"`
	Message string `json:"message"`
}

// FieldErrors is returned by the typed write-path checks.
type FieldErrors []FieldError

func (fe FieldErrors) Error() string {
	parts := make([]string, len(fe))
	for i, e := range fe {
		if e.Path == "" {
			parts[i] = e.Message
		} else {
			parts[i] = e.Path + ": " + e.Message
		}
	}
	return strings.Join(parts, "; ")
}

// Result is the outcome of Validate. Data is a *models.RegistryDocument or a
// *models.OrganizationDocument depending on the data type.
type Result struct {
	Success          bool
	Data             any
	Errors           FieldErrors
	Warnings         []string
	MigrationApplied bool
	FromVersion      string
	ToVersion        string
	AppliedSteps     []migration.Step
	// MigrationErr is set when the migration engine rejected the document.
	MigrationErr error
}

// Validator checks candidate documents against the current schemas.
// It is safe for concurrent use.
type Validator struct {
	engine   *migration.Engine
	validate *validator.Validate
}

// NewValidator returns a validator migrating with engine. A nil engine is
// replaced by the default one from NewEngine.
func NewValidator(engine *migration.Engine) (*Validator, error) {
	if engine == nil {
		var err error
		if engine, err = NewEngine(); err != nil {
			return nil, fmt.Errorf("build migration engine: %w", err)
		}
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	rules := map[string]validator.Func{
		"slug": func(fl validator.FieldLevel) bool { return ValidSlug(fl.Field().String()) },
		"semver": func(fl validator.FieldLevel) bool {
			_, err := semver.StrictNewVersion(fl.Field().String())
			return err == nil
		},
		"datekey": func(fl validator.FieldLevel) bool {
			k, err := models.DateKey(fl.Field().String())
			return err == nil && k == fl.Field().String()
		},
		"eventdate": func(fl validator.FieldLevel) bool {
			_, err := models.DateKey(fl.Field().String())
			return err == nil
		},
	}
	for tag, fn := range rules {
		if err := v.RegisterValidation(tag, fn); err != nil {
			return nil, fmt.Errorf("register %s: %w", tag, err)
		}
	}
	v.RegisterStructValidation(eventDates, models.Event{})
	return &Validator{engine: engine, validate: v}, nil
}

func eventDates(sl validator.StructLevel) {
	e := sl.Current().Interface().(models.Event)
	if e.EndDate == "" {
		return
	}
	start, err1 := models.DateKey(e.StartDate)
	end, err2 := models.DateKey(e.EndDate)
	if err1 == nil && err2 == nil && end < start {
		sl.ReportError(e.EndDate, "endDate", "EndDate", "afterstart", "")
	}
}

// Engine returns the migration engine used by the validator.
func (v *Validator) Engine() *migration.Engine { return v.engine }

// ValidateRaw decodes raw JSON and validates it.
func (v *Validator) ValidateRaw(dataType string, raw []byte, opts Options) Result {
	doc, err := migration.Decode(raw)
	if err != nil {
		return Result{Errors: FieldErrors{{Message: err.Error()}}}
	}
	return v.Validate(dataType, doc, opts)
}

// Validate checks candidate against the current schema of dataType, migrating
// it first when it is outdated and opts.AutoMigrate is set. candidate is not
// modified.
func (v *Validator) Validate(dataType string, candidate migration.Document, opts Options) Result {
	var res Result
	current, err := CurrentVersion(dataType)
	if err != nil {
		res.Errors = FieldErrors{{Message: err.Error()}}
		return res
	}
	res.ToVersion = current

	from, err := DetectVersion(dataType, candidate)
	if err != nil {
		res.Errors = FieldErrors{{Path: "schemaVersion", Message: err.Error()}}
		return res
	}
	res.FromVersion = from

	cmp, err := compareVersions(from, current)
	if err != nil {
		res.Errors = FieldErrors{{Path: "schemaVersion", Message: err.Error()}}
		return res
	}
	doc := candidate
	switch {
	case cmp > 0:
		res.Errors = FieldErrors{{Path: "schemaVersion", Message: fmt.Sprintf("version %s is newer than supported %s", from, current)}}
		return res
	case cmp < 0 && !opts.AutoMigrate:
		res.Errors = FieldErrors{{Path: "schemaVersion", Message: fmt.Sprintf("version %s is outdated, current is %s", from, current)}}
		return res
	case cmp < 0:
		mr := v.engine.Migrate(dataType, candidate, from, current)
		res.AppliedSteps = mr.AppliedSteps
		if !mr.Success {
			res.MigrationErr = mr.Err
			res.Errors = FieldErrors{{Path: "schemaVersion", Message: mr.Err.Error()}}
			return res
		}
		doc = mr.Document
		res.MigrationApplied = true
		res.Warnings = append(res.Warnings, fmt.Sprintf("migrated from %s to %s in %d steps", from, current, len(mr.AppliedSteps)))
	default:
		doc = migration.DeepCopy(candidate)
	}

	pruned, nulls := pruneNulls(doc, "")
	doc = pruned.(migration.Document)
	if opts.Strict {
		for _, p := range nulls {
			res.Errors = append(res.Errors, FieldError{Path: p, Message: "null is not allowed"})
		}
	} else {
		for _, p := range nulls {
			res.Warnings = append(res.Warnings, fmt.Sprintf("null at %s replaced by default", p))
		}
	}

	raw, err := json.Marshal(doc)
	if err != nil {
		res.Errors = append(res.Errors, FieldError{Message: fmt.Sprintf("encode document: %v", err)})
		return res.finish(opts)
	}

	var data any
	switch dataType {
	case TypeRegistry:
		var d models.RegistryDocument
		warn, errs := decodeInto(raw, &d, opts.Strict)
		res.Warnings = append(res.Warnings, warn...)
		res.Errors = append(res.Errors, errs...)
		if len(errs) == 0 {
			if !opts.Strict {
				registryDefaults(&d)
			}
			res.Errors = append(res.Errors, v.structErrors(&d)...)
		}
		data = &d
	case TypeOrganization:
		var d models.OrganizationDocument
		warn, errs := decodeInto(raw, &d, opts.Strict)
		res.Warnings = append(res.Warnings, warn...)
		res.Errors = append(res.Errors, errs...)
		if len(errs) == 0 {
			if !opts.Strict {
				organizationDefaults(&d)
			}
			res.Errors = append(res.Errors, v.structErrors(&d)...)
		}
		data = &d
	}
	if len(res.Errors) == 0 {
		res.Data = data
	}
	return res.finish(opts)
}

func (r Result) finish(opts Options) Result {
	r.Success = len(r.Errors) == 0
	if !opts.IncludeWarnings {
		r.Warnings = nil
	}
	return r
}

// ValidateRegistry prepares and checks a registry document on the write path.
// An empty schema version is set to the current one.
func (v *Validator) ValidateRegistry(d *models.RegistryDocument, strict bool) error {
	if d == nil {
		return FieldErrors{{Message: "registry document is required"}}
	}
	if d.SchemaVersion == "" {
		d.SchemaVersion = RegistryVersion
	}
	if d.SchemaVersion != RegistryVersion {
		return FieldErrors{{Path: "schemaVersion", Message: fmt.Sprintf("writes must use version %s, got %s", RegistryVersion, d.SchemaVersion)}}
	}
	if !strict {
		registryDefaults(d)
	}
	if errs := v.structErrors(d); len(errs) > 0 {
		return errs
	}
	return nil
}

// ValidateOrganization prepares and checks an organization document on the write path.
// An empty schema version is set to the current one.
func (v *Validator) ValidateOrganization(d *models.OrganizationDocument, strict bool) error {
	if d == nil {
		return FieldErrors{{Message: "organization document is required"}}
	}
	if d.SchemaVersion == "" {
		d.SchemaVersion = OrganizationVersion
	}
	if d.SchemaVersion != OrganizationVersion {
		return FieldErrors{{Path: "schemaVersion", Message: fmt.Sprintf("writes must use version %s, got %s", OrganizationVersion, d.SchemaVersion)}}
	}
	if !strict {
		organizationDefaults(d)
	}
	if errs := v.structErrors(d); len(errs) > 0 {
		return errs
	}
	return nil
}

func (v *Validator) structErrors(s any) FieldErrors {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	verrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return FieldErrors{{Message: err.Error()}}
	}
	out := make(FieldErrors, 0, len(verrs))
	for _, e := range verrs {
		out = append(out, FieldError{Path: fieldPath(e.Namespace()), Message: fieldMessage(e)})
	}
	return out
}

// fieldPath strips the root struct name from a validator namespace.
func fieldPath(ns string) string {
	if i := strings.IndexByte(ns, '.'); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

func fieldMessage(e validator.FieldError) string {
	switch e.Tag() {
	case "required":
		return "is required"
	case "email":
		return "invalid email format"
	case "min":
		return "must have at least " + e.Param() + " entries"
	case "max":
		return "must be at most " + e.Param() + " characters"
	case "oneof":
		return "must be one of: " + e.Param()
	case "unique":
		return "must be unique by " + e.Param()
	case "slug":
		return "must be 2-64 chars, lowercase letters, numbers, hyphens only"
	case "semver":
		return "must be a semantic version like 1.2.0"
	case "datekey":
		return "index date must be YYYY-MM-DD"
	case "eventdate":
		return "must be YYYY-MM-DD or RFC3339"
	case "afterstart":
		return "must not be before startDate"
	case "excluded_with":
		return "cannot be combined with " + e.Param()
	case "gte":
		return "must be greater than or equal to " + e.Param()
	case "gt":
		return "must be greater than " + e.Param()
	case "timezone":
		return "unknown time zone"
	case "bcp47_language_tag":
		return "invalid locale"
	default:
		return "failed " + e.Tag()
	}
}

// decodeInto decodes raw into dst. Unknown fields are errors in strict mode
// and warnings otherwise.
func decodeInto(raw []byte, dst any, strict bool) (warnings []string, errs FieldErrors) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	err := dec.Decode(dst)
	if err == nil {
		return nil, nil
	}
	if strings.HasPrefix(err.Error(), "json: unknown field") {
		if strict {
			return nil, FieldErrors{{Message: err.Error()}}
		}
		warnings = append(warnings, strings.TrimPrefix(err.Error(), "json: ")+" ignored")
		if err := json.Unmarshal(raw, dst); err != nil {
			return warnings, FieldErrors{{Message: err.Error()}}
		}
		return warnings, nil
	}
	return nil, FieldErrors{{Message: err.Error()}}
}

// pruneNulls returns v without null object members and array elements,
// along with the sorted paths of the removed values. Maps are changed in place.
func pruneNulls(v any, path string) (any, []string) {
	var found []string
	switch t := v.(type) {
	case map[string]any:
		for k, val := range t {
			p := joinPath(path, k)
			if val == nil {
				delete(t, k)
				found = append(found, p)
				continue
			}
			var sub []string
			t[k], sub = pruneNulls(val, p)
			found = append(found, sub...)
		}
	case []any:
		out := make([]any, 0, len(t))
		for i, val := range t {
			p := fmt.Sprintf("%s[%d]", path, i)
			if val == nil {
				found = append(found, p)
				continue
			}
			val, sub := pruneNulls(val, p)
			out = append(out, val)
			found = append(found, sub...)
		}
		v = out
	}
	sort.Strings(found)
	return v, found
}

func joinPath(base, key string) string {
	if base == "" {
		return key
	}
	return base + "." + key
}
