package config

// DefaultAssets is the Arbitrum asset set used when the config lists none.
func DefaultAssets() []AssetTmp {
	return []AssetTmp{
		{ID: "WBTC", Token: "0x2f2a2543B76A4166549F7aaB2e75Bef0aefC5B0f", Decimals: "8", PurchaseAmount: "1000", MaxPurchases: "10", FeeTier: "3000"},
		{ID: "WETH", Token: "0x82aF49447D8a07e3bd95BD0d56f35241523fBab1", Decimals: "18", PurchaseAmount: "500", MaxPurchases: "15", FeeTier: "500"},
		{ID: "LINK", Token: "0xf97f4df75117a78c1A5a0DBb814Af92458539FB4", Decimals: "18", PurchaseAmount: "300", MaxPurchases: "20", FeeTier: "3000"},
		{ID: "AVAX", Token: "0x565609fAF65B92F7be02468acF86f8979423e514", Decimals: "18", PurchaseAmount: "400", MaxPurchases: "12", FeeTier: "3000"},
		{ID: "SOL", Token: "0xb74Da9FE2F96B9E0a5f4A3cf0b92dd2bEC617124", Decimals: "9", PurchaseAmount: "600", MaxPurchases: "10", FeeTier: "10000"},
		{ID: "LDO", Token: "0x13Ad51ed4F1B7e9Dc168d8a00cB3f4dDD85EfA60", Decimals: "18", PurchaseAmount: "250", MaxPurchases: "15", FeeTier: "3000"},
	}
}
