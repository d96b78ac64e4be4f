package projection

import (
	"encoding/json"
	"time"

	"github.com/landsure/landsure-registry/interfaces"
)

type certificateRow struct {
	CertificateID   string `gorm:"primaryKey;size:128"`
	MainOwner       string `gorm:"size:42"`
	TotalArea       string `gorm:"size:80"`
	NumberOfTokens  uint64
	CertificateHash string `gorm:"size:66"`
	TokenIDs        string `gorm:"type:text"`
	ImageURL        string `gorm:"type:text"`
	Attributes      string `gorm:"type:text"`
	SyncedAt        *time.Time
	CreatedAt       time.Time `gorm:"autoCreateTime:false"`
	UpdatedAt       time.Time `gorm:"autoUpdateTime:false"`
}

func (certificateRow) TableName() string {
	return "certificates"
}

// sameContent ignores bookkeeping timestamps.
func (r *certificateRow) sameContent(o *certificateRow) bool {
	return r.CertificateID == o.CertificateID &&
		r.MainOwner == o.MainOwner &&
		r.TotalArea == o.TotalArea &&
		r.NumberOfTokens == o.NumberOfTokens &&
		r.CertificateHash == o.CertificateHash &&
		r.TokenIDs == o.TokenIDs &&
		r.ImageURL == o.ImageURL &&
		r.Attributes == o.Attributes &&
		(r.SyncedAt == nil) == (o.SyncedAt == nil)
}

func (r *certificateRow) setLedgerState(c *interfaces.Certificate) error {
	ids, err := json.Marshal(c.TokenIDs)
	if err != nil {
		return err
	}
	r.MainOwner = c.MainOwner.String()
	r.TotalArea = c.TotalArea.String()
	r.NumberOfTokens = c.NumberOfTokens
	r.CertificateHash = c.CertificateHash.String()
	r.TokenIDs = string(ids)
	return nil
}

func (r *certificateRow) mergePresentation(p *interfaces.PresentationFields) error {
	if p.ImageURL != "" {
		r.ImageURL = p.ImageURL
	}
	if len(p.Attributes) == 0 {
		return nil
	}

	attrs, err := r.attributes()
	if err != nil {
		return err
	}
	if attrs == nil {
		attrs = make(map[string]string, len(p.Attributes))
	}
	for k, v := range p.Attributes {
		attrs[k] = v
	}
	// Map keys are sorted by encoding/json, keeping the column stable.
	enc, err := json.Marshal(attrs)
	if err != nil {
		return err
	}
	r.Attributes = string(enc)
	return nil
}

func (r *certificateRow) attributes() (map[string]string, error) {
	if r.Attributes == "" {
		return nil, nil
	}
	var attrs map[string]string
	if err := json.Unmarshal([]byte(r.Attributes), &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

func (r *certificateRow) toRecord() (*interfaces.ProjectionRecord, error) {
	rec := &interfaces.ProjectionRecord{
		CertificateID:  interfaces.CertificateID(r.CertificateID),
		TotalArea:      interfaces.TotalArea(r.TotalArea),
		NumberOfTokens: r.NumberOfTokens,
		ImageURL:       r.ImageURL,
		SyncedAt:       r.SyncedAt,
		UpdatedAt:      r.UpdatedAt,
	}

	if r.MainOwner != "" {
		owner, err := interfaces.NewAddressFromHex(r.MainOwner)
		if err != nil {
			return nil, err
		}
		rec.MainOwner = owner
	}
	if r.CertificateHash != "" {
		hash, err := interfaces.NewCertificateHashFromHex(r.CertificateHash)
		if err != nil {
			return nil, err
		}
		rec.CertificateHash = hash
	}
	if r.TokenIDs != "" {
		if err := json.Unmarshal([]byte(r.TokenIDs), &rec.TokenIDs); err != nil {
			return nil, err
		}
	}

	attrs, err := r.attributes()
	if err != nil {
		return nil, err
	}
	rec.Attributes = attrs
	return rec, nil
}

type tokenRow struct {
	TokenID       uint64 `gorm:"primaryKey;autoIncrement:false"`
	CertificateID string `gorm:"index;size:128"`
	CurrentOwner  string `gorm:"size:42"`
	Burned        bool
}

func (tokenRow) TableName() string {
	return "tokens"
}

func newTokenRow(t *interfaces.Token) tokenRow {
	return tokenRow{
		TokenID:       uint64(t.TokenID),
		CertificateID: string(t.CertificateID),
		CurrentOwner:  t.CurrentOwner.String(),
		Burned:        t.Burned,
	}
}

func (r *tokenRow) toToken() (*interfaces.Token, error) {
	owner, err := interfaces.NewAddressFromHex(r.CurrentOwner)
	if err != nil {
		return nil, err
	}
	return &interfaces.Token{
		TokenID:       interfaces.TokenID(r.TokenID),
		CertificateID: interfaces.CertificateID(r.CertificateID),
		CurrentOwner:  owner,
		Burned:        r.Burned,
	}, nil
}
