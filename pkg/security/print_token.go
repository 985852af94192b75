package security

import (
	"errors"
	"time"

	"github.com/vishant8491/Kawach/internal/model"
	"github.com/vishant8491/Kawach/pkg/util"
)

// 32 random bytes, 256 bits of entropy
const printTokenSize = 32

type PrintTokenOpts struct {
	FileID   string
	Validity time.Duration
	Now      time.Time
}

// MakePrintToken builds a fresh, unused print token record. It's not persisted
func MakePrintToken(o *PrintTokenOpts) (*model.PrintToken, error) {
	if o == nil {
		return nil, errors.New("no token options provided")
	}

	if o.FileID == "" {
		return nil, errors.New("no file ID provided")
	}

	if o.Validity <= 0 {
		return nil, errors.New("validity must be bigger than 0")
	}

	now := o.Now
	if now.IsZero() {
		now = time.Now()
	}
	now = now.UTC()

	token, err := util.GenerateToken(printTokenSize)
	if err != nil {
		return nil, err
	}

	return &model.PrintToken{
		Token:     token,
		FileID:    o.FileID,
		CreatedAt: now,
		ExpiresAt: now.Add(o.Validity),
	}, nil
}
