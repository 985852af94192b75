// Package internal wires together the services shared by the HTTP handlers
package internal

import (
	"github.com/vishant8491/Kawach/internal/blob"
	"github.com/vishant8491/Kawach/internal/qr"
	"github.com/vishant8491/Kawach/internal/redeem"
	"github.com/vishant8491/Kawach/internal/registry"
	"github.com/vishant8491/Kawach/internal/token"
	"github.com/vishant8491/Kawach/pkg/security"

	"gorm.io/gorm"
)

type Deps struct {
	DB       *gorm.DB
	Argon    *security.ArgonHash
	Blobs    blob.Store
	Tokens   *token.Manager
	Files    *registry.Registry
	Issuer   *qr.Issuer
	Redeemer *redeem.Service
}
