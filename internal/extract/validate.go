package extract

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"sync"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"

	"github.com/roach88/crmsync/internal/model"
)

//go:embed schema.cue
var schemaSource string

// Schema definitions documents are checked against.
const (
	DefAnalysis       = "#Analysis"
	DefCompanyDetails = "#CompanyDetails"
)

// Validator checks JSON documents against the embedded CUE schema.
// A cue.Context is not safe for concurrent use, so calls are serialized.
type Validator struct {
	mu     sync.Mutex
	ctx    *cue.Context
	schema cue.Value
}

// NewValidator compiles the embedded schema.
func NewValidator() (*Validator, error) {
	ctx := cuecontext.New()
	schema := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := schema.Err(); err != nil {
		return nil, fmt.Errorf("compile analysis schema: %w", err)
	}
	return &Validator{ctx: ctx, schema: schema}, nil
}

var (
	defaultValidator     *Validator
	defaultValidatorErr  error
	defaultValidatorOnce sync.Once
)

func sharedValidator() (*Validator, error) {
	defaultValidatorOnce.Do(func() {
		defaultValidator, defaultValidatorErr = NewValidator()
	})
	return defaultValidator, defaultValidatorErr
}

// Validate checks data against #Analysis and decodes it.
func Validate(data []byte) (*Analysis, error) {
	v, err := sharedValidator()
	if err != nil {
		return nil, model.NewExtractionError("schema unavailable", err)
	}
	return v.Analysis(data)
}

// Analysis checks data against #Analysis and decodes it.
func (v *Validator) Analysis(data []byte) (*Analysis, error) {
	var a Analysis
	if err := v.Decode(DefAnalysis, data, &a); err != nil {
		return nil, err
	}
	a.normalize()
	return &a, nil
}

// CompanyDetails checks data against #CompanyDetails and decodes it.
func (v *Validator) CompanyDetails(data []byte) (*CompanyDetails, error) {
	var c CompanyDetails
	if err := v.Decode(DefCompanyDetails, data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Decode unifies the JSON document data with the schema definition def,
// requires the result to be concrete and decodes it into out.
// Failures are EXTRACTION_FAILED errors.
func (v *Validator) Decode(def string, data []byte, out any) error {
	if err := v.check(def, data); err != nil {
		return err
	}
	if err := json.Unmarshal(data, out); err != nil {
		return model.NewExtractionError("decode "+def, err)
	}
	return nil
}

func (v *Validator) check(def string, data []byte) error {
	v.mu.Lock()
	defer v.mu.Unlock()

	schema := v.schema.LookupPath(cue.ParsePath(def))
	if !schema.Exists() {
		return model.NewExtractionError("unknown schema definition "+def, nil)
	}
	if !json.Valid(data) {
		return model.NewExtractionError("document is not valid JSON", nil)
	}
	doc := v.ctx.CompileBytes(data, cue.Filename("document.json"))
	if err := doc.Err(); err != nil {
		return model.NewExtractionError("parse document", err)
	}
	if err := schema.Unify(doc).Validate(cue.Concrete(true)); err != nil {
		return model.NewExtractionError(fmt.Sprintf("document does not match %s: %s", def, cueerrors.Details(err, nil)), nil)
	}
	return nil
}
