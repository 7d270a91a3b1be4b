package service

import (
	"fmt"
	"sync"
	"time"

	"github.com/getAlby/sweephub.go/chain"
	"github.com/getAlby/sweephub.go/common"
	"github.com/getAlby/sweephub.go/keywallet"
	"github.com/getAlby/sweephub.go/rabbitmq"
	"github.com/ziflex/lecho/v3"
)

type SweepService struct {
	Config         *Config
	Store          InvoiceStore
	Wallet         *keywallet.Wallet
	Adapters       map[string]chain.Adapter
	Logger         *lecho.Logger
	InvoicePubSub  *Pubsub
	RabbitMQClient rabbitmq.Client

	// at most one sweep runs at a time: the hot wallet signer's
	// nonce/sequence state is shared and sweep volume is low
	sweepMu sync.Mutex
}

func (svc *SweepService) AdapterFor(family string) (chain.Adapter, error) {
	adapter, ok := svc.Adapters[family]
	if !ok {
		return nil, fmt.Errorf("no chain adapter configured for asset family %q", family)
	}
	return adapter, nil
}

func (svc *SweepService) WatchInterval() time.Duration {
	return time.Duration(svc.Config.WatchIntervalSeconds) * time.Second
}

// DeriveAddress reproduces the deposit address and signing key for an
// index. The signer must be dropped as soon as the caller is done with
// it; it is never stored.
func (svc *SweepService) DeriveAddress(family string, index uint64) (address, path string, signer *keywallet.Signer, err error) {
	switch family {
	case common.AssetFamilyNative:
		address, signer, err = svc.Wallet.DeriveNative(index)
		path = keywallet.NativePath(index)
	case common.AssetFamilyToken:
		address, signer, err = svc.Wallet.DeriveToken(index)
		path = keywallet.TokenPath(index)
	default:
		err = fmt.Errorf("unsupported asset family %q", family)
	}
	return address, path, signer, err
}
