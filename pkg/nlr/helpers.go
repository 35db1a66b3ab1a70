package nlr

import "math"

func roundNearest(x float64) float64 { return math.Round(x) }
func sigmoidValue(x float64) float64 { return 1 / (1 + math.Exp(-x)) }
func tanhValue(x float64) float64    { return math.Tanh(x) }
func expValue(x float64) float64     { return math.Exp(x) }
