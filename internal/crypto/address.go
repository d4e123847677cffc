package crypto

import (
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
)

// NetworkParams 按网络名返回链参数
func NetworkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "", "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	case "regtest":
		return &chaincfg.RegressionNetParams, nil
	case "simnet":
		return &chaincfg.SimNetParams, nil
	default:
		return nil, errors.Errorf("unknown network: %s", network)
	}
}

// ValidateAddress 校验收款地址对当前网络是否合法
func ValidateAddress(address string, params *chaincfg.Params) error {
	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return errors.Wrap(err, "failed to decode address")
	}
	if !addr.IsForNet(params) {
		return errors.Errorf("address %s is not valid for network %s", address, params.Name)
	}
	return nil
}
