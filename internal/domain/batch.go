package domain

import "github.com/ethereum/go-ethereum/common"

// BatchManager is a delegate that manages the rate for a batch of troves.
type BatchManager struct {
	Address     common.Address
	Name        string
	Description string
}
