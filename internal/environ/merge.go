package environ

// MergeInput collects the layers that make up a child process environment.
type MergeInput struct {
	// Base is the parent process environment.
	Base *Set
	// Policy classifies Base variables for forwarding. Nil forwards none.
	Policy Policy
	// Extra holds user declared variables. They override Base and are
	// always forwarded.
	Extra []Entry
	// RunScoped holds values resolved for this run (reference, registry
	// credentials). They override Extra and are never forwarded by name,
	// even when Base or Extra carries the same name.
	RunScoped []Entry
}

// Result is the merged environment plus the names disclosed to the child.
type Result struct {
	Env     *Set
	Forward []string
}

// Merge layers base, extra and run-scoped variables. Forward lists names
// only; values travel through Env and never appear on a command line.
func Merge(in MergeInput) Result {
	env := in.Base.Clone()

	var forward []string
	seen := make(map[string]struct{})
	add := func(name string) {
		if _, ok := seen[name]; ok {
			return
		}
		seen[name] = struct{}{}
		forward = append(forward, name)
	}

	for _, name := range ForwardNames(in.Base, in.Policy) {
		add(name)
	}

	for _, entry := range in.Extra {
		env.Put(entry.Name, entry.Value)
		add(entry.Name)
	}

	scoped := make(map[string]struct{}, len(in.RunScoped))
	for _, entry := range in.RunScoped {
		env.Put(entry.Name, entry.Value)
		scoped[entry.Name] = struct{}{}
	}

	// Run-scoped names stay out even when base or extras also declare them.
	kept := forward[:0]
	for _, name := range forward {
		if _, ok := scoped[name]; !ok {
			kept = append(kept, name)
		}
	}

	return Result{Env: env, Forward: kept}
}

// ForwardNames applies a policy to a set without merging, in set order.
func ForwardNames(set *Set, policy Policy) []string {
	var out []string
	for _, name := range set.Keys() {
		if policy != nil && policy.Forward(name) {
			out = append(out, name)
		}
	}
	return out
}
