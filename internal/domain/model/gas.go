package model

type GasPriceRecommendation struct {
	MaxPriorityFee float32
	MaxFee         float32
}

type GasPriceRecommendations struct {
	SafeLow          *GasPriceRecommendation
	Standard         *GasPriceRecommendation
	Fast             *GasPriceRecommendation
	EstimatedBaseFee float32
	BlockTime        int64
	BlockNumber      int64
}
