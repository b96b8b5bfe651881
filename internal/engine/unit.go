package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/vk/kbuildgo/internal/ctxlog"
	"github.com/vk/kbuildgo/internal/fingerprint"
	"github.com/vk/kbuildgo/internal/fpcache"
	"github.com/vk/kbuildgo/internal/model"
	"github.com/vk/kbuildgo/internal/toolchain"
)

// process decides whether t is stale and builds it if so. Any error is a
// failure of this unit only.
func (b *build) process(ctx context.Context, t *task) (Status, *UnitBuildError) {
	logger := ctxlog.FromContext(ctx)
	u := t.unit
	fail := func(err error, diagnostic string) (Status, *UnitBuildError) {
		return Failed, &UnitBuildError{Unit: u.ID, Diagnostic: diagnostic, Err: err}
	}

	inv := b.invocation(t)
	cmdline, err := b.opts.Compiler.Command(inv)
	if err != nil {
		return fail(err, "")
	}

	tc := b.graph.Context()
	key := fpcache.Key{Unit: u.ID, Context: tc.Hash(), State: b.graph.ConfigHash(u.ID)}
	prev, hasPrev := b.cache.Get(key)

	sig := fingerprint.Signature{
		Kind:    string(u.Kind),
		Unit:    u.ID,
		Output:  u.Output,
		Context: key.Context,
		Config:  key.State,
		Command: cmdline,
	}
	for _, in := range u.Inputs {
		d, err := b.hasher.File(in)
		if errors.Is(err, os.ErrNotExist) {
			return fail(fmt.Errorf("missing input %s", in), "")
		}
		if err != nil {
			return fail(err, "")
		}
		sig.Inputs = append(sig.Inputs, fingerprint.FileDigest{Path: in, Digest: d})
	}
	if hasPrev {
		implicit, err := b.digests(prev.Discovered)
		if err != nil {
			return fail(err, "")
		}
		sig.Implicit = implicit
	}
	for _, d := range t.deps {
		sig.Deps = append(sig.Deps, fingerprint.FileDigest{Path: d.unit.ID, Digest: d.fingerprint})
	}
	fp, err := sig.Sum()
	if err != nil {
		return fail(err, "")
	}

	reason := b.staleReason(prev, hasPrev, fp, u.Output)
	if reason == "" {
		t.fingerprint = fp
		logger.Debug("Unit is up to date.")
		return UpToDate, nil
	}
	t.result.Reason = reason

	if b.opts.DryRun {
		t.fingerprint = fp
		logger.Info("Unit would be rebuilt.", "reason", reason)
		return WouldBuild, nil
	}

	logger.Info("Building unit.", "reason", reason)
	b.invocations.Add(1)
	// Running invocations finish after cancellation, and so does recording
	// their outcome.
	ctx = context.WithoutCancel(ctx)
	res, err := b.opts.Compiler.Compile(ctx, inv)
	if err != nil {
		if delErr := b.cache.Delete(ctx, key); delErr != nil {
			logger.Warn("Failed to remove stale fingerprint.", "error", delErr)
		}
		return fail(err, res.Diagnostic)
	}

	outDigest, err := b.hasher.Artifact(u.Output)
	if err != nil {
		return fail(err, res.Diagnostic)
	}
	if outDigest == fingerprint.Missing {
		return fail(fmt.Errorf("compiler reported success but did not produce %s", u.Output), res.Diagnostic)
	}

	// The recorded fingerprint covers the implicit inputs discovered now,
	// which is what the next build will compare against.
	implicit, err := b.digests(res.Discovered)
	if err != nil {
		return fail(err, res.Diagnostic)
	}
	sig.Implicit = implicit
	if fp, err = sig.Sum(); err != nil {
		return fail(err, res.Diagnostic)
	}

	entry := fpcache.Entry{
		Fingerprint:  fp,
		Output:       u.Output,
		OutputDigest: outDigest,
		Discovered:   res.Discovered,
	}
	if err := b.cache.Put(ctx, key, entry); err != nil {
		return fail(err, res.Diagnostic)
	}
	t.fingerprint = fp
	return Built, nil
}

// staleReason returns why a unit must be rebuilt, or "" if the cached
// entry still describes its artifact.
func (b *build) staleReason(prev fpcache.Entry, hasPrev bool, fp, output string) string {
	switch {
	case !hasPrev:
		return "no fingerprint recorded"
	case prev.Fingerprint != fp:
		return "fingerprint changed"
	case prev.Output != output:
		return "output moved"
	}
	d, err := b.hasher.Artifact(output)
	switch {
	case err != nil:
		return fmt.Sprintf("output unreadable: %v", err)
	case d == fingerprint.Missing:
		return "output missing"
	case d != prev.OutputDigest:
		return "output modified"
	}
	return ""
}

// digests hashes implicit inputs; vanished files get the Missing digest so
// their disappearance marks the unit stale.
func (b *build) digests(paths []string) ([]fingerprint.FileDigest, error) {
	out := make([]fingerprint.FileDigest, 0, len(paths))
	for _, p := range paths {
		d, err := b.hasher.FileOrMissing(p)
		if err != nil {
			return nil, err
		}
		out = append(out, fingerprint.FileDigest{Path: p, Digest: d})
	}
	return out, nil
}

func (b *build) invocation(t *task) toolchain.Invocation {
	u := t.unit
	tc := b.graph.Context()
	state := b.graph.State()

	inv := toolchain.Invocation{
		Unit:   u.ID,
		Kind:   u.Kind,
		Output: u.Output,
		Flags:  u.Flags,
		Arch:   tc.Arch(),
		Prefix: tc.ToolchainPrefix(),
		Dir:    b.opts.SourceRoot,
		Config: make(map[string]string, len(u.Relevant)),
	}
	for _, in := range u.Inputs {
		inv.Inputs = append(inv.Inputs, b.hasher.Resolve(in))
	}
	for _, d := range t.deps {
		inv.Deps = append(inv.Deps, d.unit.Output)
	}
	for _, name := range u.Relevant {
		if e, ok := state.Lookup(name); ok {
			inv.Config[name] = e.String()
		} else {
			inv.Config[name] = ""
		}
	}
	if u.Kind == model.KindObject {
		inv.Depfile = filepath.Join(filepath.Dir(u.Output), "."+filepath.Base(u.Output)+".d")
	}
	return inv
}
