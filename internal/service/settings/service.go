// Package settings manages each user's model selection and provider keys.
// Keys only ever leave the service masked.
package settings

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/zhouzirui/parley/backend/internal/model/catalog"
	model "github.com/zhouzirui/parley/backend/internal/model/settings"
	"github.com/zhouzirui/parley/backend/internal/service/ai"
)

const (
	maskPrefix   = "..."
	keyFieldTail = "_api_key"
)

var (
	ErrUnknownProvider = errors.New("unknown provider")
	ErrInvalidPatch    = errors.New("invalid settings payload")
)

// Store is the persistence the settings service needs.
type Store interface {
	GetSettings(ctx context.Context, userID string) (model.Settings, bool, error)
	SaveSelection(ctx context.Context, userID string, sel model.Selection) error
	SetCredential(ctx context.Context, userID, provider, secret string) error
	DeleteCredential(ctx context.Context, userID, provider string) error
}

// View is the client-facing settings document. It marshals flat:
// selected_provider, selected_model and one <provider>_api_key per keyed
// provider, masked or null.
type View struct {
	SelectedProvider string
	SelectedModel    string
	Keys             map[string]*string
}

func (v View) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(v.Keys)+2)
	out["selected_provider"] = v.SelectedProvider
	out["selected_model"] = v.SelectedModel
	for provider, masked := range v.Keys {
		out[provider+keyFieldTail] = masked
	}
	return json.Marshal(out)
}

// KeyUpdate is a requested change to one provider key. A nil Value deletes it.
type KeyUpdate struct {
	Value *string
}

// Patch is a partial settings update. Absent fields are left unchanged.
type Patch struct {
	SelectedProvider *string
	SelectedModel    *string
	Keys             map[string]KeyUpdate
}

// PatchFromJSON decodes a settings update body. Fields other than the
// selection and known <provider>_api_key entries are ignored.
func PatchFromJSON(data []byte, cat *catalog.Catalog) (Patch, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return Patch{}, fmt.Errorf("%w: %v", ErrInvalidPatch, err)
	}

	var p Patch
	decodeString := func(field string) (*string, error) {
		v, ok := raw[field]
		if !ok {
			return nil, nil
		}
		var s *string
		if err := json.Unmarshal(v, &s); err != nil {
			return nil, fmt.Errorf("%w: %s must be a string", ErrInvalidPatch, field)
		}
		return s, nil
	}

	var err error
	if p.SelectedProvider, err = decodeString("selected_provider"); err != nil {
		return Patch{}, err
	}
	if p.SelectedModel, err = decodeString("selected_model"); err != nil {
		return Patch{}, err
	}

	for _, provider := range cat.KeyedProviders() {
		field := provider + keyFieldTail
		if _, ok := raw[field]; !ok {
			continue
		}
		value, err := decodeString(field)
		if err != nil {
			return Patch{}, err
		}
		if p.Keys == nil {
			p.Keys = make(map[string]KeyUpdate)
		}
		p.Keys[provider] = KeyUpdate{Value: value}
	}
	return p, nil
}

// Service reads and writes user settings.
type Service struct {
	store   Store
	catalog *catalog.Catalog
	cipher  *Cipher
	log     logrus.FieldLogger
}

// NewService wires the settings service. A nil cipher stores keys in plaintext.
func NewService(store Store, cat *catalog.Catalog, c *Cipher, log logrus.FieldLogger) *Service {
	return &Service{store: store, catalog: cat, cipher: c, log: log}
}

// Get returns the user's settings with defaults filled in and keys masked.
func (s *Service) Get(ctx context.Context, userID string) (View, error) {
	stored, _, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		return View{}, fmt.Errorf("load settings: %w", err)
	}
	return s.view(stored), nil
}

// Update applies p and returns the resulting view. A key value that starts
// with the mask prefix is the masked echo of the stored key and is skipped;
// an empty or null value deletes the key.
func (s *Service) Update(ctx context.Context, userID string, p Patch) (View, error) {
	if p.SelectedProvider != nil {
		key := strings.TrimSpace(*p.SelectedProvider)
		if _, ok := s.catalog.Lookup(key); !ok {
			return View{}, fmt.Errorf("%w: %q", ErrUnknownProvider, key)
		}
		p.SelectedProvider = &key
	}

	providers := make([]string, 0, len(p.Keys))
	for provider := range p.Keys {
		providers = append(providers, provider)
	}
	sort.Strings(providers)

	for _, provider := range providers {
		update := p.Keys[provider]
		switch {
		case update.Value == nil || strings.TrimSpace(*update.Value) == "":
			if err := s.store.DeleteCredential(ctx, userID, provider); err != nil {
				return View{}, fmt.Errorf("delete %s key: %w", provider, err)
			}
		case strings.HasPrefix(*update.Value, maskPrefix):
			continue
		default:
			sealed, err := s.cipher.Seal(strings.TrimSpace(*update.Value))
			if err != nil {
				return View{}, err
			}
			if err := s.store.SetCredential(ctx, userID, provider, sealed); err != nil {
				return View{}, fmt.Errorf("store %s key: %w", provider, err)
			}
		}
	}

	if p.SelectedProvider != nil || p.SelectedModel != nil {
		sel := model.Selection{Provider: p.SelectedProvider, Model: p.SelectedModel}
		if err := s.store.SaveSelection(ctx, userID, sel); err != nil {
			return View{}, fmt.Errorf("save selection: %w", err)
		}
	}

	s.log.WithFields(logrus.Fields{"user_id": userID, "keys": providers}).Info("[settings] updated")
	return s.Get(ctx, userID)
}

// Selection returns what the user picked for the next turn, with the
// selected provider's key decrypted. Missing keys are left to the resolver.
func (s *Service) Selection(ctx context.Context, userID string) (ai.Selection, error) {
	stored, _, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		return ai.Selection{}, fmt.Errorf("load settings: %w", err)
	}

	sel := s.withDefaults(stored)
	out := ai.Selection{Provider: sel.SelectedProvider, Model: sel.SelectedModel}
	if secret, ok := stored.Credentials[out.Provider]; ok && secret != "" {
		plain, err := s.cipher.Open(secret)
		if err != nil {
			s.log.WithError(err).WithFields(logrus.Fields{
				"user_id":  userID,
				"provider": out.Provider,
			}).Warn("[settings] stored key unreadable")
		} else {
			out.Credential = plain
		}
	}
	return out, nil
}

func (s *Service) withDefaults(stored model.Settings) model.Settings {
	def := s.catalog.Default()
	if stored.SelectedProvider == "" {
		stored.SelectedProvider = def.Key
		if stored.SelectedModel == "" {
			stored.SelectedModel = def.DefaultModel()
		}
	}
	return stored
}

func (s *Service) view(stored model.Settings) View {
	stored = s.withDefaults(stored)
	v := View{
		SelectedProvider: stored.SelectedProvider,
		SelectedModel:    stored.SelectedModel,
		Keys:             make(map[string]*string),
	}
	for _, provider := range s.catalog.KeyedProviders() {
		v.Keys[provider] = nil
		secret, ok := stored.Credentials[provider]
		if !ok || secret == "" {
			continue
		}
		plain, err := s.cipher.Open(secret)
		if err != nil {
			// Still report that a key exists without revealing any of it.
			masked := maskPrefix
			v.Keys[provider] = &masked
			continue
		}
		masked := MaskKey(plain)
		v.Keys[provider] = &masked
	}
	return v
}

// MaskKey keeps only the last four characters of key.
func MaskKey(key string) string {
	runes := []rune(key)
	if len(runes) <= 4 {
		return maskPrefix
	}
	return maskPrefix + string(runes[len(runes)-4:])
}
