package types

import "strings"

// AggFunc identifies the aggregate whose intermediate state an
// aggregate_function column carries.
type AggFunc uint8

const (
	AggUnknown AggFunc = iota
	AggAny
	AggAnyLast
	AggAnyHeavy
	AggArgMax
	AggArgMin
	AggAvg
	AggAvgWeighted
	AggCorr
	AggCount
	AggCovarPop
	AggCovarSamp
	AggEntropy
	AggFirstValue
	AggGroupArray
	AggGroupArrayInsertAt
	AggGroupBitAnd
	AggGroupBitOr
	AggGroupBitXor
	AggGroupBitmap
	AggGroupUniqArray
	AggHistogram
	AggKurtPop
	AggKurtSamp
	AggLastValue
	AggMax
	AggMaxMap
	AggMedian
	AggMin
	AggMinMap
	AggQuantile
	AggQuantileExact
	AggQuantileTDigest
	AggQuantiles
	AggSkewPop
	AggSkewSamp
	AggStddevPop
	AggStddevSamp
	AggSum
	AggSumMap
	AggSumWithOverflow
	AggTopK
	AggTopKWeighted
	AggUniq
	AggUniqCombined
	AggUniqCombined64
	AggUniqExact
	AggUniqHLL12
	AggUniqTheta
	AggVarPop
	AggVarSamp
)

var aggregateNames = [...]string{
	AggUnknown:            "",
	AggAny:                "any",
	AggAnyLast:            "any_last",
	AggAnyHeavy:           "any_heavy",
	AggArgMax:             "arg_max",
	AggArgMin:             "arg_min",
	AggAvg:                "avg",
	AggAvgWeighted:        "avg_weighted",
	AggCorr:               "corr",
	AggCount:              "count",
	AggCovarPop:           "covar_pop",
	AggCovarSamp:          "covar_samp",
	AggEntropy:            "entropy",
	AggFirstValue:         "first_value",
	AggGroupArray:         "group_array",
	AggGroupArrayInsertAt: "group_array_insert_at",
	AggGroupBitAnd:        "group_bit_and",
	AggGroupBitOr:         "group_bit_or",
	AggGroupBitXor:        "group_bit_xor",
	AggGroupBitmap:        "group_bitmap",
	AggGroupUniqArray:     "group_uniq_array",
	AggHistogram:          "histogram",
	AggKurtPop:            "kurt_pop",
	AggKurtSamp:           "kurt_samp",
	AggLastValue:          "last_value",
	AggMax:                "max",
	AggMaxMap:             "max_map",
	AggMedian:             "median",
	AggMin:                "min",
	AggMinMap:             "min_map",
	AggQuantile:           "quantile",
	AggQuantileExact:      "quantile_exact",
	AggQuantileTDigest:    "quantile_t_digest",
	AggQuantiles:          "quantiles",
	AggSkewPop:            "skew_pop",
	AggSkewSamp:           "skew_samp",
	AggStddevPop:          "stddev_pop",
	AggStddevSamp:         "stddev_samp",
	AggSum:                "sum",
	AggSumMap:             "sum_map",
	AggSumWithOverflow:    "sum_with_overflow",
	AggTopK:               "top_k",
	AggTopKWeighted:       "top_k_weighted",
	AggUniq:               "uniq",
	AggUniqCombined:       "uniq_combined",
	AggUniqCombined64:     "uniq_combined64",
	AggUniqExact:          "uniq_exact",
	AggUniqHLL12:          "uniq_hll12",
	AggUniqTheta:          "uniq_theta",
	AggVarPop:             "var_pop",
	AggVarSamp:            "var_samp",
}

var aggregateByName = func() map[string]AggFunc {
	m := make(map[string]AggFunc, len(aggregateNames))
	for i, n := range aggregateNames {
		if n != "" {
			m[n] = AggFunc(i)
		}
	}
	// CamelCase spellings found in server metadata.
	m["anyLast"] = AggAnyLast
	m["argMax"] = AggArgMax
	m["argMin"] = AggArgMin
	m["groupArray"] = AggGroupArray
	m["groupUniqArray"] = AggGroupUniqArray
	m["groupBitAnd"] = AggGroupBitAnd
	m["groupBitOr"] = AggGroupBitOr
	m["groupBitXor"] = AggGroupBitXor
	m["groupBitmap"] = AggGroupBitmap
	m["maxMap"] = AggMaxMap
	m["minMap"] = AggMinMap
	m["sumMap"] = AggSumMap
	m["sumWithOverflow"] = AggSumWithOverflow
	m["topK"] = AggTopK
	m["uniqCombined"] = AggUniqCombined
	m["uniqExact"] = AggUniqExact
	return m
}()

// aggregateCombinators are suffixes that modify an aggregate without changing
// which state it stores, e.g. sum_if or uniq_state.
var aggregateCombinators = []string{
	"_if", "_array", "_state", "_merge", "_merge_state", "_or_null",
	"_or_default", "_distinct", "_resample", "_for_each", "_map",
}

func (f AggFunc) String() string {
	if int(f) < len(aggregateNames) {
		return aggregateNames[f]
	}
	return ""
}

// LookupAggregateFunction resolves a function name, stripping combinator
// suffixes until a known aggregate remains.
func LookupAggregateFunction(name string) (AggFunc, bool) {
	for {
		if f, ok := aggregateByName[name]; ok {
			return f, true
		}
		stripped := false
		for _, suffix := range aggregateCombinators {
			if base, ok := strings.CutSuffix(name, suffix); ok && base != "" {
				name = base
				stripped = true
				break
			}
		}
		if !stripped {
			return AggUnknown, false
		}
	}
}
