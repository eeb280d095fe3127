package saga

import (
	"context"
	"io"
	"net"
	"syscall"

	"github.com/google/cel-go/cel"
	"github.com/pkg/errors"
)

// Classifier reports whether an error is worth retrying
type Classifier func(err error) bool

type transient interface {
	Transient() bool
}

// DefaultClassifier retries timeouts, dropped connections and errors that declare
// themselves transient. Everything else is permanent.
func DefaultClassifier(err error) bool {
	if err == nil {
		return false
	}
	var t transient
	if errors.As(err, &t) {
		return t.Transient()
	}
	if errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

// NewCELClassifier builds a classifier from a boolean CEL expression evaluated
// over the failed call, e.g. `timeout || status >= 500 || code == "rate_limited"`.
// Errors without attributes, or evaluation errors, fall back to the given classifier.
func NewCELClassifier(expression string, fallback Classifier) (Classifier, error) {
	if fallback == nil {
		fallback = DefaultClassifier
	}
	env, err := cel.NewEnv(
		cel.Variable("service", cel.StringType),
		cel.Variable("code", cel.StringType),
		cel.Variable("status", cel.IntType),
		cel.Variable("timeout", cel.BoolType),
		cel.Variable("message", cel.StringType),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create cel environment")
	}
	ast, issues := env.Compile(expression)
	if issues != nil && issues.Err() != nil {
		return nil, errors.Wrap(issues.Err(), "compile transient expression")
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, errors.Errorf("transient expression must be boolean, got %v", ast.OutputType())
	}
	program, err := env.Program(ast)
	if err != nil {
		return nil, errors.Wrap(err, "build transient expression")
	}

	return func(err error) bool {
		if err == nil {
			return false
		}
		attrs, ok := AttributesOf(err)
		if !ok {
			return fallback(err)
		}
		out, _, evalErr := program.Eval(map[string]any{
			"service": attrs.Service,
			"code":    attrs.Code,
			"status":  int64(attrs.StatusCode),
			"timeout": attrs.Timeout,
			"message": err.Error(),
		})
		if evalErr != nil {
			return fallback(err)
		}
		retry, ok := out.Value().(bool)
		if !ok {
			return fallback(err)
		}
		return retry
	}, nil
}
