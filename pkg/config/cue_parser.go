package config

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/load"
	"github.com/go-playground/validator/v10"

	"github.com/pageflow/pageflow/pkg/engine"
)

// Loader parses CUE profile sources, unifies them with the built-in profile
// schema and validates the decoded result.
type Loader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewLoader creates a profile loader.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()
	schema, err := compileSchema(ctx)
	if err != nil {
		return nil, err
	}

	v := validator.New()
	if err := v.RegisterValidation("duration", validDuration); err != nil {
		return nil, fmt.Errorf("failed to register duration validation: %w", err)
	}

	return &Loader{ctx: ctx, schema: schema, validator: v}, nil
}

func validDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// LoadProfile loads sources and returns the profile, or a configuration error
// listing every problem found.
func (l *Loader) LoadProfile(ctx context.Context, sources ...string) (*Profile, error) {
	lp, err := l.Load(ctx, sources...)
	if err != nil {
		return nil, err
	}
	if !lp.Valid() {
		return nil, invalidProfileError(lp.Errors)
	}
	return lp.Profile, nil
}

func invalidProfileError(errs []ValidationError) error {
	msgs := make([]string, 0, len(errs))
	for _, e := range errs {
		msgs = append(msgs, e.String())
	}
	return engine.NewConfigurationError("invalid profile: "+strings.Join(msgs, "; "), nil)
}

// String formats the error as file:line:column: path: message, omitting
// unknown parts.
func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// Load parses and unifies the given files or directories. Problems in the
// sources are reported in LoadedProfile.Errors; the returned error is
// reserved for sources that cannot be read at all.
func (l *Loader) Load(ctx context.Context, sources ...string) (*LoadedProfile, error) {
	if len(sources) == 0 {
		return nil, engine.NewConfigurationError("no profile sources provided", nil)
	}

	var (
		unified     cue.Value
		sourceFiles []string
		loadErrors  []ValidationError
	)

	for _, source := range sources {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		info, err := os.Stat(source)
		if err != nil {
			return nil, engine.NewConfigurationError(fmt.Sprintf("failed to stat profile source %s", source), err)
		}

		var (
			val   cue.Value
			files []string
			errs  []ValidationError
		)
		if info.IsDir() {
			val, files, errs = l.loadDirectory(source)
		} else {
			val, errs = l.loadFile(source)
			files = []string{source}
		}

		loadErrors = append(loadErrors, errs...)
		sourceFiles = append(sourceFiles, files...)
		if val.Exists() {
			if unified.Exists() {
				unified = unified.Unify(val)
			} else {
				unified = val
			}
		}
	}

	if len(loadErrors) > 0 {
		return &LoadedProfile{SourceFiles: sourceFiles, LoadedAt: time.Now(), Errors: loadErrors}, nil
	}

	return l.extractProfile(unified, sourceFiles), nil
}

// LoadInline parses profile content held in memory.
func (l *Loader) LoadInline(_ context.Context, content string) (*LoadedProfile, error) {
	val := l.ctx.CompileString(content, cue.Filename("inline"))
	if err := val.Err(); err != nil {
		return &LoadedProfile{
			SourceFiles: []string{"inline"},
			LoadedAt:    time.Now(),
			Errors:      convertCUEErrors(err),
		}, nil
	}
	return l.extractProfile(val, []string{"inline"}), nil
}

func (l *Loader) loadDirectory(dir string) (cue.Value, []string, []ValidationError) {
	instances := load.Instances([]string{dir}, nil)
	if len(instances) == 0 {
		return cue.Value{}, nil, []ValidationError{{File: dir, Message: "no CUE files found"}}
	}

	inst := instances[0]
	if inst.Err != nil {
		return cue.Value{}, nil, convertCUEErrors(inst.Err)
	}

	val := l.ctx.BuildInstance(inst)
	if err := val.Err(); err != nil {
		return cue.Value{}, nil, convertCUEErrors(err)
	}

	var files []string
	for _, f := range inst.Files {
		if f.Filename != "" {
			files = append(files, f.Filename)
		}
	}
	return val, files, nil
}

func (l *Loader) loadFile(path string) (cue.Value, []ValidationError) {
	content, err := os.ReadFile(path)
	if err != nil {
		return cue.Value{}, []ValidationError{{File: path, Message: fmt.Sprintf("failed to read file: %v", err)}}
	}

	val := l.ctx.CompileBytes(content, cue.Filename(path))
	if err := val.Err(); err != nil {
		return cue.Value{}, convertCUEErrors(err)
	}
	return val, nil
}

func (l *Loader) extractProfile(val cue.Value, sourceFiles []string) *LoadedProfile {
	lp := &LoadedProfile{SourceFiles: sourceFiles, LoadedAt: time.Now()}

	if err := val.Err(); err != nil {
		lp.Errors = convertCUEErrors(err)
		return lp
	}

	pv := val.LookupPath(cue.ParsePath("profile"))
	if !pv.Exists() {
		lp.Errors = []ValidationError{{Path: "profile", Message: "field not found"}}
		return lp
	}

	checked := l.schema.Unify(pv)
	if err := checked.Validate(cue.Concrete(true)); err != nil {
		lp.Errors = convertCUEErrors(err)
		return lp
	}

	var p Profile
	if err := checked.Decode(&p); err != nil {
		lp.Errors = []ValidationError{{Path: "profile", Message: fmt.Sprintf("failed to decode profile: %v", err)}}
		return lp
	}

	if err := l.validator.Struct(p); err != nil {
		lp.Errors = convertValidatorErrors(err)
		return lp
	}

	lp.Profile = &p
	return lp
}

func convertCUEErrors(err error) []ValidationError {
	var out []ValidationError
	for _, e := range cueerrors.Errors(err) {
		ve := ValidationError{
			Path:    strings.Join(e.Path(), "."),
			Message: cueerrors.Details(e, nil),
		}
		if pos := cueerrors.Positions(e); len(pos) > 0 {
			ve.File = pos[0].Filename()
			ve.Line = pos[0].Line()
			ve.Column = pos[0].Column()
		}
		out = append(out, ve)
	}
	return out
}

func convertValidatorErrors(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Path: "profile", Message: err.Error()}}
	}

	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		msg := fmt.Sprintf("failed %q validation", fe.Tag())
		if fe.Param() != "" {
			msg = fmt.Sprintf("failed %q validation (%s)", fe.Tag(), fe.Param())
		}
		out = append(out, ValidationError{
			Path:    strings.Replace(fe.Namespace(), "Profile", "profile", 1),
			Message: msg,
		})
	}
	return out
}
