package codec

import (
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
)

// AggregateSelector is the 4-byte selector of aggregate((address,bytes)[]).
const AggregateSelector = "0x252dba42"

const aggregatorABIJSON = `[
  {
    "inputs": [
      {
        "components": [
          {"internalType": "address", "name": "target", "type": "address"},
          {"internalType": "bytes", "name": "callData", "type": "bytes"}
        ],
        "internalType": "struct Multicall.Call[]",
        "name": "calls",
        "type": "tuple[]"
      }
    ],
    "name": "aggregate",
    "outputs": [
      {"internalType": "uint256", "name": "blockNumber", "type": "uint256"},
      {"internalType": "bytes[]", "name": "returnData", "type": "bytes[]"}
    ],
    "stateMutability": "nonpayable",
    "type": "function"
  }
]`

var (
	aggregatorOnce sync.Once
	aggregatorABI  abi.ABI
	aggregatorErr  error
)

func loadAggregatorABI() (abi.ABI, error) {
	aggregatorOnce.Do(func() {
		aggregatorABI, aggregatorErr = abi.JSON(strings.NewReader(aggregatorABIJSON))
	})
	return aggregatorABI, aggregatorErr
}

// aggregateCall mirrors the (target, callData) tuple of the aggregator.
type aggregateCall struct {
	Target   common.Address
	CallData []byte
}
