/*
	The wire form of persistgen's command results.

	With `--format=json`, every command writes exactly one Event to stdout.
	Callers in other processes (see the `client` package) read it back and
	get the same plan, or the same categorized error, they'd have gotten by
	calling the library directly.
*/
package api

import (
	"fmt"

	"github.com/warpfork/go-errcat"

	"github.com/polydawn/persistgen"
	"github.com/polydawn/persistgen/plan"
)

/*
	A "union" of every message a command may send.

	Only Result exists today; it's wrapped so more kinds can be added
	without breaking readers.
*/
type Event struct {
	Result *Event_Result `refmt:"result,omitempty"`
}

type Event_Result struct {
	Plan  *plan.Plan `refmt:"plan,omitempty"`
	Error *Error     `refmt:"error,omitempty"`
}

/*
	A categorized error, in a form that survives serialization.

	Implements error, and works with `errcat.Category`.
*/
type Error struct {
	CategoryStr string `refmt:"category"`
	MsgStr      string `refmt:"msg"`
}

func (e *Error) Category() interface{} { return persistgen.ErrorCategory(e.CategoryStr) }
func (e *Error) Message() string { return e.MsgStr }
func (e *Error) Details() map[string]string { return nil }
func (e *Error) Error() string { return e.MsgStr }

/*
	Convert any error to its serializable form.

	Errors with no category at all (which shouldn't escape, but might)
	are reported as "persistgen-unknown".
*/
func ToError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	category := "persistgen-unknown"
	if c := errcat.Category(err); c != nil {
		category = fmt.Sprintf("%v", c)
	}
	return &Error{CategoryStr: category, MsgStr: err.Error()}
}

func (r *Event_Result) SetError(err error) {
	r.Error = ToError(err)
}
