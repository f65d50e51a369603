// Package bootstrap implements the operator-triggered startup protocol:
// validate the bearer credential, ensure a live push subscription, run an
// initial full sync, and open the credential gate.
package bootstrap

import (
	"context"
	"fmt"
	"log"

	"github.com/driveshadow/driveshadow/internal/gate"
	"github.com/driveshadow/driveshadow/internal/reconcile"
	"github.com/driveshadow/driveshadow/internal/types"
)

// DriveResolver is the slice of the provider gateway bootstrap needs.
type DriveResolver interface {
	ResolveDefaultDrive(ctx context.Context, bearer string) (string, error)
}

// Engine is the slice of the reconcile engine bootstrap needs.
type Engine interface {
	InitialSync(ctx context.Context, driveID string) (*reconcile.Result, error)
}

// Subscriptions is the slice of the subscription manager bootstrap needs.
type Subscriptions interface {
	EnsureLive(ctx context.Context, resource string) (*types.Subscription, error)
	SweepExpired(ctx context.Context) (int, error)
}

// Runner wires the bootstrap sequence.
type Runner struct {
	Gate   *gate.Gate
	Drives DriveResolver
	Subs   Subscriptions
	Engine Engine
	Bearer string
}

// Result reports a successful bootstrap.
type Result struct {
	Principal      string `json:"principal"`
	DriveID        string `json:"drive_id"`
	SubscriptionID string `json:"subscription_id"`
	ItemsProcessed int    `json:"items_processed"`
}

// Run executes the bootstrap sequence. The gate is enabled only when every
// step succeeded; a gate failure surfaces as *gate.ValidationError so the
// HTTP layer can answer 401.
func (r *Runner) Run(ctx context.Context) (*Result, error) {
	identity, err := r.Gate.Validate(ctx, r.Bearer)
	if err != nil {
		r.Gate.Disable()
		return nil, err
	}
	log.Printf("bootstrap: credential valid for %s", identity.PrincipalName)

	driveID, err := r.Drives.ResolveDefaultDrive(ctx, r.Bearer)
	if err != nil {
		return nil, fmt.Errorf("resolve default drive: %w", err)
	}

	if n, err := r.Subs.SweepExpired(ctx); err != nil {
		log.Printf("bootstrap: sweep expired subscriptions: %v", err)
	} else if n > 0 {
		log.Printf("bootstrap: swept %d expired subscription(s)", n)
	}

	sub, err := r.Subs.EnsureLive(ctx, "/drives/"+driveID+"/root")
	if err != nil {
		return nil, fmt.Errorf("ensure subscription: %w", err)
	}

	res, err := r.Engine.InitialSync(ctx, driveID)
	if err != nil {
		return nil, fmt.Errorf("initial sync: %w", err)
	}

	r.Gate.Enable()
	log.Printf("bootstrap: complete, drive %s, subscription %s, %d items", driveID, sub.ProviderID, res.ItemsProcessed)

	return &Result{
		Principal:      identity.PrincipalName,
		DriveID:        driveID,
		SubscriptionID: sub.ProviderID,
		ItemsProcessed: res.ItemsProcessed,
	}, nil
}
