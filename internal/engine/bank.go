package engine

import (
	"context"
	"log"
	"strings"

	"github.com/vanvuongngo/hindsight/internal/llm"
	"github.com/vanvuongngo/hindsight/internal/storage"
	"github.com/vanvuongngo/hindsight/pkg/types"
)

// GetBankProfile fetches the bank, auto-creating it with neutral
// defaults on first reference.
func (e *Engine) GetBankProfile(ctx context.Context, bankID string) (*types.Bank, error) {
	return e.store.GetOrCreateBank(ctx, bankID)
}

// ListBanks returns every bank, most recently updated first.
func (e *Engine) ListBanks(ctx context.Context) ([]*types.Bank, error) {
	return e.store.ListBanks(ctx)
}

// CreateOrUpdateBank upserts name, background, and personality. Traits
// are clamped to [0, 1].
func (e *Engine) CreateOrUpdateBank(ctx context.Context, bank *types.Bank) (*types.Bank, error) {
	if bank.BankID == "" {
		return nil, Validationf("bank_id must not be empty")
	}
	bank.Personality.Clamp()
	if bank.Name == "" {
		bank.Name = bank.BankID
	}
	if err := e.store.UpsertBank(ctx, bank); err != nil {
		return nil, err
	}
	return e.store.GetOrCreateBank(ctx, bank.BankID)
}

// UpdateBankPersonality replaces the personality record.
func (e *Engine) UpdateBankPersonality(ctx context.Context, bankID string, p types.Personality) (*types.Bank, error) {
	if _, err := e.store.GetOrCreateBank(ctx, bankID); err != nil {
		return nil, err
	}
	p.Clamp()
	if err := e.store.UpdateBankPersonality(ctx, bankID, p); err != nil {
		return nil, err
	}
	return e.store.GetOrCreateBank(ctx, bankID)
}

// MergeBankBackground folds new information into the bank's background
// narrative via the LLM, re-inferring the personality from the merged
// text. On LLM failure the new information is appended verbatim and the
// personality left untouched, so profile updates never drop content.
func (e *Engine) MergeBankBackground(ctx context.Context, bankID, information string) (*types.Bank, error) {
	information = strings.TrimSpace(information)
	if information == "" {
		return nil, Validationf("information must not be empty")
	}

	bank, err := e.store.GetOrCreateBank(ctx, bankID)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Background  string             `json:"background"`
		Personality *types.Personality `json:"personality"`
	}
	err = llm.CompleteJSON(ctx, e.gen, llm.Request{
		Scope:  llm.ScopeReflect,
		System: backgroundMergeSystem,
		Prompt: backgroundMergePrompt(bank.Background, information),
		Schema: backgroundMergeSchema,
	}, &resp)

	background := strings.TrimSpace(resp.Background)
	personality := resp.Personality
	if err != nil || background == "" {
		if err != nil {
			log.Printf("engine: background merge for bank %s failed, appending: %v", bankID, err)
		}
		background = bank.Background
		if background != "" {
			background += "\n\n"
		}
		background += information
		personality = nil
	}
	if personality != nil {
		personality.Clamp()
	}

	if err := e.store.UpdateBankBackground(ctx, bankID, background, personality); err != nil {
		return nil, err
	}
	return e.store.GetOrCreateBank(ctx, bankID)
}

// DeleteBank removes the bank and everything it owns, or just the units
// of one fact type when factType is set.
func (e *Engine) DeleteBank(ctx context.Context, bankID string, factType *types.FactType) (int, error) {
	if factType != nil && !types.ValidFactType(string(*factType)) {
		return 0, Validationf("invalid fact type %q", string(*factType))
	}
	return e.store.DeleteBank(ctx, bankID, factType)
}

// BankStats returns unit, link, entity, and document counts.
func (e *Engine) BankStats(ctx context.Context, bankID string) (*storage.BankStats, error) {
	return e.store.BankStats(ctx, bankID)
}
