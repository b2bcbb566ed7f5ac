package script

import (
	"context"

	"github.com/GriffinCanCode/netlaunch/internal/permission"
)

// Window is the result of opening a top-level window.
type Window struct {
	Handle string `json:"handle"`
	// Banner is set when the window must carry the untrusted-code warning.
	Banner bool `json:"banner"`
}

// Env connects a unit to its application. Methods taking a stack receive the
// source names of the script frames active at the call, innermost first.
type Env interface {
	Class(ctx context.Context, name string) (*Class, error)
	Resource(ctx context.Context, name string) ([]byte, error)
	DownloadPart(ctx context.Context, part string) error

	Check(ctx context.Context, stack []string, p permission.Permission) error
	// Has answers the same question as Check without recording a denial.
	Has(ctx context.Context, stack []string, p permission.Permission) bool
	Exit(ctx context.Context, stack []string, status int) error
	OpenWindow(ctx context.Context, stack []string, title string) (Window, error)
	CloseWindow(handle string) error

	Property(key string) (string, bool)
	SetProperty(key, value string)

	// Spawn starts className.function on a new unit in the same application.
	Spawn(ctx context.Context, className, function string, args []any) (string, error)
}
