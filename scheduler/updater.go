package scheduler

import (
	"context"
	"fmt"

	"ddnsd/ddns"
	"ddnsd/log"
	"ddnsd/metrics"
	"ddnsd/store"

	"go.uber.org/zap"
)

// Updater pushes one address to the provider of a domain.
type Updater struct {
	vault   Vault
	factory func(id string) (ddns.Interface, error)
}

func NewUpdater(v Vault) *Updater {
	return &Updater{vault: v, factory: ddns.New}
}

// Update resolves the provider and credentials of d, then points its record
// at ip, creating the record if the zone has none.
func (u *Updater) Update(ctx context.Context, d store.Domain, ip string) (result ddns.UpdateResult, err error) {
	ctx = log.SWith(ctx, log.Stage("update"), log.Provider(d.Provider))
	defer func() {
		metrics.IncrementProvider(d.Provider, err)
	}()

	p, err := u.factory(d.Provider)
	if err != nil {
		log.S(ctx).Errorw("failed loading provider", zap.Error(err))
		return ddns.UpdateResult{}, err
	}

	creds, err := u.vault.Resolve(ctx, d.Provider, d.ID)
	if err != nil {
		log.S(ctx).Errorw("failed resolving credentials", zap.Error(err))
		return ddns.UpdateResult{}, err
	}

	if err := p.Initialize(ctx, creds); err != nil {
		log.S(ctx).Errorw("failed initializing provider", zap.Error(err))
		return ddns.UpdateResult{}, fmt.Errorf("initialize: %w", err)
	}

	record, err := p.GetRecord(ctx, d.Name, d.Label(), d.RecordType)
	if err != nil {
		log.S(ctx).Errorw("failed read record info", zap.Error(err))
		return ddns.UpdateResult{}, fmt.Errorf("get record: %w", err)
	}

	if record == nil {
		created, err := p.CreateRecord(ctx, d.Name, d.Label(), d.RecordType, ip)
		if err != nil {
			log.S(ctx).Errorw("failed creating record", zap.Error(err))
			return ddns.UpdateResult{}, fmt.Errorf("create record: %w", err)
		}
		log.S(ctx).Infow("record created", "fqdn", d.FQDN(), "record_id", created.ID, "content", ip)
		return ddns.UpdateResult{
			Success:    true,
			RecordID:   created.ID,
			NewContent: created.Content,
			Message:    "record created",
		}, nil
	}

	result, err = p.UpdateRecord(ctx, d.Name, record.ID, ip)
	if err != nil {
		log.S(ctx).Errorw("failed update record", "record_id", record.ID, zap.Error(err))
		return result, fmt.Errorf("update record: %w", err)
	}
	if !result.Success {
		return result, fmt.Errorf("update record: rejected: %s", result.Message)
	}

	log.S(ctx).Infow("record updated", "fqdn", d.FQDN(), "record_id", record.ID, "old", record.Content, "new", ip)
	return result, nil
}
