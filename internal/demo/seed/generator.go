package seed

import (
	"fmt"
	"math"
	"math/rand"
	"time"
)

type Product struct {
	ID          string  `parquet:"id"`
	SKU         string  `parquet:"sku"`
	MSKU        string  `parquet:"msku,optional"`
	Name        string  `parquet:"name"`
	Description string  `parquet:"description,optional"`
	Category    string  `parquet:"category"`
	Price       float64 `parquet:"price"`
	Cost        float64 `parquet:"cost"`
}

type Order struct {
	ID           string    `parquet:"id"`
	OrderNumber  string    `parquet:"order_number"`
	CustomerName string    `parquet:"customer_name,optional"`
	OrderDate    time.Time `parquet:"order_date"`
	TotalAmount  float64   `parquet:"total_amount"`
	Status       string    `parquet:"status"`
	Marketplace  string    `parquet:"marketplace"`
}

type Sale struct {
	ID          string    `parquet:"id"`
	Date        time.Time `parquet:"date"`
	Quantity    int64     `parquet:"quantity"`
	Revenue     float64   `parquet:"revenue"`
	Cost        float64   `parquet:"cost"`
	Profit      float64   `parquet:"profit"`
	Marketplace string    `parquet:"marketplace"`
	ProductID   string    `parquet:"product_id"`
	OrderID     string    `parquet:"order_id"`
}

// Dataset is one consistent warehouse: every sale points at a generated
// product and order, and order totals equal the sum of their sales.
type Dataset struct {
	Products []Product
	Orders   []Order
	Sales    []Sale
}

var (
	adjectives   = []string{"Classic", "Compact", "Deluxe", "Eco", "Pro", "Smart", "Travel", "Ultra"}
	nouns        = []string{"Backpack", "Blender", "Desk Lamp", "Headphones", "Kettle", "Notebook", "Water Bottle", "Yoga Mat"}
	categories   = []string{"electronics", "home", "kitchen", "office", "outdoor", "sports"}
	customers    = []string{"Acme Retail", "Blue Harbor", "Cedar & Co", "Delta Goods", "Evergreen Shop", "Fjord Supply", "Granite Market"}
	statuses     = []string{"delivered", "delivered", "delivered", "shipped", "processing", "cancelled", "returned"}
	marketplaces = []string{"amazon", "ebay", "shopify", "walmart"}
)

type Generator struct {
	rnd *rand.Rand
	cfg Config
	now func() time.Time
}

func NewGenerator(cfg Config) *Generator {
	return &Generator{
		rnd: rand.New(rand.NewSource(cfg.Seed)),
		cfg: cfg,
		now: func() time.Time { return time.Now().UTC() },
	}
}

func (g *Generator) Generate() Dataset {
	var ds Dataset
	for i := 1; i <= g.cfg.Products; i++ {
		ds.Products = append(ds.Products, g.product(i))
	}

	today := g.now().Truncate(24 * time.Hour)
	saleSeq := 0
	for i := 1; i <= g.cfg.Orders; i++ {
		order := Order{
			ID:          fmt.Sprintf("ord-%05d", i),
			OrderNumber: fmt.Sprintf("WMS-%06d", 100000+i),
			OrderDate:   today.AddDate(0, 0, -g.rnd.Intn(g.cfg.DaysBack)),
			Status:      pickOne(g.rnd, statuses),
			Marketplace: pickOne(g.rnd, marketplaces),
		}
		if g.rnd.Intn(10) > 0 {
			order.CustomerName = pickOne(g.rnd, customers)
		}

		lines := g.rnd.Intn(g.cfg.MaxLinesPerOrder) + 1
		total := 0.0
		for j := 0; j < lines; j++ {
			saleSeq++
			product := ds.Products[g.rnd.Intn(len(ds.Products))]
			quantity := int64(g.rnd.Intn(5) + 1)
			revenue := round2(product.Price * float64(quantity))
			cost := round2(product.Cost * float64(quantity))
			ds.Sales = append(ds.Sales, Sale{
				ID:          fmt.Sprintf("sale-%06d", saleSeq),
				Date:        order.OrderDate,
				Quantity:    quantity,
				Revenue:     revenue,
				Cost:        cost,
				Profit:      round2(revenue - cost),
				Marketplace: order.Marketplace,
				ProductID:   product.ID,
				OrderID:     order.ID,
			})
			total += revenue
		}
		order.TotalAmount = round2(total)
		ds.Orders = append(ds.Orders, order)
	}
	return ds
}

func (g *Generator) product(i int) Product {
	name := pickOne(g.rnd, adjectives) + " " + pickOne(g.rnd, nouns)
	price := round2(5 + g.rnd.Float64()*195)
	p := Product{
		ID:       fmt.Sprintf("prod-%04d", i),
		SKU:      fmt.Sprintf("SKU-%04d", i),
		Name:     fmt.Sprintf("%s %d", name, i),
		Category: pickOne(g.rnd, categories),
		Price:    price,
		Cost:     round2(price * (0.4 + g.rnd.Float64()*0.3)),
	}
	if i%3 == 0 {
		p.MSKU = fmt.Sprintf("MSKU-%03d", i/3)
	}
	if g.rnd.Intn(2) == 0 {
		p.Description = "Demo catalog item " + p.SKU
	}
	return p
}

func round2(value float64) float64 {
	return math.Round(value*100) / 100
}

func pickOne(r *rand.Rand, values []string) string {
	return values[r.Intn(len(values))]
}
