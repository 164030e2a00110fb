package resample

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var ErrUnknownStrategy = errors.New("unknown resample strategy")

// Strategy selects a resolution reduction method.
type Strategy int

const (
	StrategyMean Strategy = iota
	StrategySubsample
)

var strategyNames = map[Strategy]string{
	StrategyMean:      "mean",
	StrategySubsample: "subsample",
}

// strategies is built once and never mutated.
var strategies = map[string]Func{
	"mean":      Mean,
	"subsample": Subsample,
}

func (s Strategy) String() string {
	if name, ok := strategyNames[s]; ok {
		return name
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// Func returns the implementation of s, or nil for an undefined strategy.
func (s Strategy) Func() Func {
	return strategies[strategyNames[s]]
}

// ParseStrategy maps a name such as "mean" to its Strategy.
func ParseStrategy(name string) (Strategy, error) {
	key := strings.ToLower(strings.TrimSpace(name))
	for s, n := range strategyNames {
		if n == key {
			return s, nil
		}
	}
	return 0, fmt.Errorf("%w: %q (known: %s)", ErrUnknownStrategy, name, strings.Join(Names(), ", "))
}

// Lookup returns the strategy registered under name.
func Lookup(name string) (Func, error) {
	s, err := ParseStrategy(name)
	if err != nil {
		return nil, err
	}
	return s.Func(), nil
}

// Names lists the registered strategy names in sorted order.
func Names() []string {
	names := make([]string, 0, len(strategies))
	for name := range strategies {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
