package config

import (
	"fmt"
	"strings"

	"multiwatch/internal/model"
	"multiwatch/internal/units"
)

// CallSpec is one entry of the config file "calls" list:
//
//	calls:
//	  - target: "0x6b17...1d0f"
//	    method: "balanceOf(address)(uint256)"
//	    args: ["0x72776bb917751225d24c07d0663b3780b2ada67c"]
//	    returns:
//	      - key: BALANCE_OF_WHALE
//	        transform: fromWei
//
// An empty target resolves to the multicall contract.
type CallSpec struct {
	Target  string        `mapstructure:"target"`
	Method  string        `mapstructure:"method"`
	Args    []interface{} `mapstructure:"args"`
	Returns []ReturnSpec  `mapstructure:"returns"`
}

// ReturnSpec names one return value and its transform (see units.ByName).
type ReturnSpec struct {
	Key       string `mapstructure:"key"`
	Transform string `mapstructure:"transform"`
}

// BuildCalls resolves call specs into model calls. Signature and argument
// checks are left to the codec.
func BuildCalls(specs []CallSpec) ([]model.Call, error) {
	calls := make([]model.Call, 0, len(specs))
	for i, spec := range specs {
		call, err := spec.Call()
		if err != nil {
			return nil, fmt.Errorf("calls[%d]: %w", i, err)
		}
		calls = append(calls, call)
	}
	return calls, nil
}

// Call converts the entry into a model call.
func (s CallSpec) Call() (model.Call, error) {
	method := strings.TrimSpace(s.Method)
	if method == "" {
		return model.Call{}, fmt.Errorf("method is required")
	}

	call := model.Call{Method: method, Args: s.Args}
	if target := strings.TrimSpace(s.Target); target != "" {
		addr, err := parseAddress(target)
		if err != nil {
			return model.Call{}, fmt.Errorf("target: %w", err)
		}
		call.Target = addr
	}

	call.Returns = make([]model.Return, 0, len(s.Returns))
	for _, r := range s.Returns {
		if r.Key == "" {
			return model.Call{}, fmt.Errorf("return key is required")
		}
		transform, err := units.ByName(r.Transform)
		if err != nil {
			return model.Call{}, fmt.Errorf("%s: %w", r.Key, err)
		}
		call.Returns = append(call.Returns, model.Return{Key: r.Key, Transform: transform})
	}
	return call, nil
}
