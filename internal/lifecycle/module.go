package lifecycle

import "context"

// BootPriority decides when a module is loaded during startup.
// Higher priorities load first. None modules are never booted automatically.
type BootPriority int

const (
	// None modules load only when requested manually or as a dependency.
	None BootPriority = iota
	// Lowest priority modules load last.
	Lowest
	// Normal is intended for most game features.
	Normal
	// Highest priority modules load right after the critical ones.
	Highest
	// Critical is for modules other modules cannot live without.
	Critical
)

// String returns the priority name.
func (p BootPriority) String() string {
	switch p {
	case None:
		return "none"
	case Lowest:
		return "lowest"
	case Normal:
		return "normal"
	case Highest:
		return "highest"
	case Critical:
		return "critical"
	default:
		return "unknown"
	}
}

// Module is a unit of server functionality managed by the Manager.
type Module interface {
	// Initialize brings the module up. It is called at most once per Start.
	Initialize(ctx context.Context) error

	// Stop releases the module's resources. The context carries the shutdown deadline.
	Stop(ctx context.Context) error

	// Priority returns the boot priority of the module.
	Priority() BootPriority

	// Name returns the unique, non-empty name of the module.
	Name() string
}

// Dependent is implemented by modules that need other modules loaded first.
type Dependent interface {
	// DependsOn returns the names of the modules that must be initialized
	// before this one.
	DependsOn() []string
}

func dependenciesOf(m Module) []string {
	if d, ok := m.(Dependent); ok {
		return d.DependsOn()
	}
	return nil
}
