package hypixel

import "time"

// envelope holds the fields every SkyBlock resource response shares.
type envelope struct {
	Success     bool   `json:"success"`
	Cause       string `json:"cause,omitempty"`
	LastUpdated int64  `json:"lastUpdated"`
}

// BazaarResponse is the /skyblock/bazaar resource.
type BazaarResponse struct {
	Success     bool                     `json:"success"`
	LastUpdated int64                    `json:"lastUpdated"`
	Products    map[string]BazaarProduct `json:"products"`
}

// UpdatedAt returns LastUpdated as a time.
func (r *BazaarResponse) UpdatedAt() time.Time {
	return time.UnixMilli(r.LastUpdated)
}

// Len returns the number of products.
func (r *BazaarResponse) Len() int {
	return len(r.Products)
}

// BazaarProduct is one bazaar product. Order summaries are not decoded.
type BazaarProduct struct {
	ProductID   string            `json:"product_id"`
	QuickStatus BazaarQuickStatus `json:"quick_status"`
}

// BazaarQuickStatus aggregates the live order book of a product.
type BazaarQuickStatus struct {
	ProductID      string  `json:"productId"`
	BuyPrice       float64 `json:"buyPrice"`
	SellPrice      float64 `json:"sellPrice"`
	BuyVolume      int64   `json:"buyVolume"`
	SellVolume     int64   `json:"sellVolume"`
	BuyMovingWeek  int64   `json:"buyMovingWeek"`
	SellMovingWeek int64   `json:"sellMovingWeek"`
	BuyOrders      int     `json:"buyOrders"`
	SellOrders     int     `json:"sellOrders"`
}

// AuctionsPage is one page of /skyblock/auctions. Pages are numbered from 0.
type AuctionsPage struct {
	Success       bool      `json:"success"`
	Page          int       `json:"page"`
	TotalPages    int       `json:"totalPages"`
	TotalAuctions int       `json:"totalAuctions"`
	LastUpdated   int64     `json:"lastUpdated"`
	Auctions      []Auction `json:"auctions"`
}

// Auction is one active auction house listing.
type Auction struct {
	UUID             string `json:"uuid"`
	Auctioneer       string `json:"auctioneer"`
	ProfileID        string `json:"profile_id"`
	Start            int64  `json:"start"`
	End              int64  `json:"end"`
	ItemName         string `json:"item_name"`
	ItemLore         string `json:"item_lore"`
	Extra            string `json:"extra"`
	Category         string `json:"category"`
	Tier             string `json:"tier"`
	StartingBid      int64  `json:"starting_bid"`
	ItemBytes        string `json:"item_bytes"`
	Claimed          bool   `json:"claimed"`
	HighestBidAmount int64  `json:"highest_bid_amount"`
	LastUpdated      int64  `json:"last_updated"`
	BIN              bool   `json:"bin"`
	Bids             []Bid  `json:"bids"`
}

// Bid is one bid on an auction.
type Bid struct {
	AuctionID string `json:"auction_id"`
	Bidder    string `json:"bidder"`
	ProfileID string `json:"profile_id"`
	Amount    int64  `json:"amount"`
	Timestamp int64  `json:"timestamp"`
}

// AuctionsSnapshot is every page of one auctions version assembled in page order.
type AuctionsSnapshot struct {
	LastUpdated   int64     `json:"lastUpdated"`
	TotalPages    int       `json:"totalPages"`
	TotalAuctions int       `json:"totalAuctions"`
	Auctions      []Auction `json:"auctions"`
}

// UpdatedAt returns LastUpdated as a time.
func (s *AuctionsSnapshot) UpdatedAt() time.Time {
	return time.UnixMilli(s.LastUpdated)
}

// Len returns the number of assembled auctions.
func (s *AuctionsSnapshot) Len() int {
	return len(s.Auctions)
}
