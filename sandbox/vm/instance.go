// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package vm

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/bureau-foundation/warren/lib/clock"
)

// Manager reconciles the VM registry against limactl. All lifecycle
// decisions go through it: Ensure for session start, Stop and Delete
// for the management CLI.
type Manager struct {
	Registry *Registry
	Lima     *Lima
	Clock    clock.Clock
	Logger   *slog.Logger
}

// EnsureOptions describes the VM a session needs. Resource and mount
// values apply only when the VM is first created; on reuse the
// existing VM wins and a mismatch is logged.
type EnsureOptions struct {
	Name        string
	ProjectRoot string // empty under shared isolation

	CPUs      int
	MemoryGiB int
	DiskGiB   int
	Mounts    []Mount

	// CredentialMounts is recorded on the VM record so `warren vm
	// list` can show which host credentials a VM can reach. The
	// mounts themselves must already be part of Mounts.
	CredentialMounts map[string]string

	Provision ProvisionOptions
}

// Ensure brings the named VM to a running, provisioned state,
// creating it on first use. Concurrent callers serialize on the
// registry lock; the second caller finds the work done and returns
// immediately.
//
// A creation failure is fatal. A provisioning failure stops the VM
// and leaves the record unprovisioned; the next Ensure boots it and
// retries the phases. The record is never auto-deleted.
func (m *Manager) Ensure(ctx context.Context, opts EnsureOptions) (Record, error) {
	release, err := m.Registry.Lock()
	if err != nil {
		return Record{}, err
	}
	defer release()

	record, found, err := m.Registry.Get(opts.Name)
	if err != nil {
		return Record{}, err
	}
	if !found {
		record = Record{
			Name:             opts.Name,
			ProjectRoot:      opts.ProjectRoot,
			CPUs:             opts.CPUs,
			MemoryGiB:        opts.MemoryGiB,
			DiskGiB:          opts.DiskGiB,
			CredentialMounts: opts.CredentialMounts,
			CreatedAt:        m.now(),
		}
	} else if record.CPUs != opts.CPUs || record.MemoryGiB != opts.MemoryGiB || record.DiskGiB != opts.DiskGiB {
		m.logger().Warn("VM resource configuration changed; delete the VM to apply it",
			"vm", opts.Name,
			"cpus", record.CPUs, "memory_gib", record.MemoryGiB, "disk_gib", record.DiskGiB)
	}

	status, err := m.instanceStatus(ctx, opts.Name)
	if err != nil {
		return Record{}, err
	}

	switch status {
	case StatusRunning:
	case "":
		configYAML, err := RenderConfig(Template{
			CPUs:      opts.CPUs,
			MemoryGiB: opts.MemoryGiB,
			DiskGiB:   opts.DiskGiB,
			Mounts:    opts.Mounts,
		})
		if err != nil {
			return Record{}, err
		}
		m.logger().Info("creating VM (first boot downloads the image)", "vm", opts.Name)
		if err := m.Lima.Create(ctx, opts.Name, configYAML); err != nil {
			return Record{}, fmt.Errorf("%w (inspect with `limactl start %s --debug`, remove leftovers with `limactl delete --force %s`)", err, opts.Name, opts.Name)
		}
		record.Provisioned = false
	default:
		// Stopped, or a state limactl considers broken. Start either
		// way; limactl reports what is actually wrong.
		m.logger().Info("starting VM", "vm", opts.Name, "status", status)
		if err := m.Lima.Start(ctx, opts.Name); err != nil {
			return Record{}, err
		}
	}

	record.UpdatedAt = m.now()
	if err := m.Registry.Put(record); err != nil {
		return Record{}, err
	}

	if !record.Provisioned {
		if err := m.provision(ctx, opts.Name, opts.Provision); err != nil {
			record.LastError = err.Error()
			record.UpdatedAt = m.now()
			if putErr := m.Registry.Put(record); putErr != nil {
				m.logger().Warn("record provisioning failure", "vm", opts.Name, "error", putErr)
			}
			if stopErr := m.Lima.Stop(ctx, opts.Name); stopErr != nil {
				m.logger().Warn("stop VM after failed provisioning", "vm", opts.Name, "error", stopErr)
			}
			return Record{}, fmt.Errorf("provision VM %s: %w (the VM is stopped and provisioning is retried on the next session)", opts.Name, err)
		}
		record.Provisioned = true
		record.LastError = ""
		record.UpdatedAt = m.now()
		if err := m.Registry.Put(record); err != nil {
			return Record{}, err
		}
	}

	return record, nil
}

func (m *Manager) provision(ctx context.Context, name string, opts ProvisionOptions) error {
	for _, phase := range Phases(opts) {
		m.logger().Info("provisioning VM", "vm", name, "phase", phase.Name)
		if _, err := m.Lima.Shell(ctx, name, phase.Script, phase.Sudo); err != nil {
			return fmt.Errorf("phase %s: %w", phase.Name, err)
		}
	}
	return nil
}

// instanceStatus returns the limactl status of name, or "" when no
// such instance exists.
func (m *Manager) instanceStatus(ctx context.Context, name string) (string, error) {
	instances, err := m.Lima.List(ctx)
	if err != nil {
		if !m.Lima.Available(ctx) {
			return "", fmt.Errorf("limactl is not available; install Lima (https://lima-vm.io) or set sandbox.backend to container: %w", err)
		}
		return "", err
	}
	for _, info := range instances {
		if info.Name == name {
			return info.Status, nil
		}
	}
	return "", nil
}

// Status pairs every registry record with its live limactl state.
// Records whose instance has disappeared report StateMissing.
type Status struct {
	Record Record
	State  string
}

// StateMissing marks a record with no backing limactl instance:
// deleted outside warren, or a creation that never completed.
const StateMissing = "Missing"

// List returns the status of every registered VM, sorted by name.
func (m *Manager) List(ctx context.Context) ([]Status, error) {
	records, err := m.Registry.List()
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	instances, err := m.Lima.List(ctx)
	if err != nil {
		return nil, err
	}
	byName := make(map[string]string, len(instances))
	for _, info := range instances {
		byName[info.Name] = info.Status
	}
	statuses := make([]Status, 0, len(records))
	for _, record := range records {
		state, ok := byName[record.Name]
		if !ok {
			state = StateMissing
		}
		statuses = append(statuses, Status{Record: record, State: state})
	}
	return statuses, nil
}

// Stop shuts the named VM down, keeping its record and disk.
func (m *Manager) Stop(ctx context.Context, name string) error {
	status, err := m.instanceStatus(ctx, name)
	if err != nil {
		return err
	}
	if status != StatusRunning {
		return nil
	}
	return m.Lima.Stop(ctx, name)
}

// Delete destroys the named VM and removes its record. The state
// directory is the caller's to archive or remove.
func (m *Manager) Delete(ctx context.Context, name string) error {
	status, err := m.instanceStatus(ctx, name)
	if err != nil {
		return err
	}
	if status != "" {
		if err := m.Lima.Delete(ctx, name); err != nil {
			return err
		}
	}
	return m.Registry.Delete(name)
}

func (m *Manager) now() time.Time {
	return m.clock().Now().UTC()
}

func (m *Manager) clock() clock.Clock {
	if m.Clock != nil {
		return m.Clock
	}
	return clock.Real()
}

func (m *Manager) logger() *slog.Logger {
	if m.Logger != nil {
		return m.Logger
	}
	return slog.New(slog.DiscardHandler)
}
