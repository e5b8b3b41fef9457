package actions

// DefaultAction is run by steps that do not name an action.
const DefaultAction = "noop"

// RegisterBuiltins registers all built-in actions in the given registry.
func RegisterBuiltins(reg *Registry) error {
	all := make([]Action, 0, 8)

	// Context actions.
	all = append(all, ContextActions()...)

	// Expression actions.
	all = append(all, ExprActions()...)

	for _, a := range all {
		if err := reg.Register(a); err != nil {
			return err
		}
	}
	return nil
}
