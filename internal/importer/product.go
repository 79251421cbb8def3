package importer

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/manupuranic/dataflow-hub/internal/dedupe"
	etlio "github.com/manupuranic/dataflow-hub/internal/io"
	"github.com/manupuranic/dataflow-hub/internal/logging"
	"github.com/manupuranic/dataflow-hub/internal/normalize"
)

// productMergeKeys are the columns used to left-join inventory rows onto
// product rows before import.
var productMergeKeys = []string{"Barcode", "Item Name", "Brand", "MRP", "Expiry Date"}

// defaultExpiry marks products without a usable expiry date.
var defaultExpiry = time.Date(9999, 12, 31, 0, 0, 0, 0, time.UTC)

// ProductImporter maps retail product and inventory exports into the
// products table. Item names and brands are dimension tables resolved to
// surrogate ids through the lookup store, cached for the importer's
// lifetime.
type ProductImporter struct {
	lookup etlio.LookupStore

	itemNameCache map[string]string
	brandCache    map[string]string
}

// NewProductImporter builds a product importer over the given lookup store.
func NewProductImporter(lookup etlio.LookupStore) *ProductImporter {
	return &ProductImporter{
		lookup:        lookup,
		itemNameCache: make(map[string]string),
		brandCache:    make(map[string]string),
	}
}

func (p *ProductImporter) TableName() string { return "products" }

func (p *ProductImporter) ConflictColumns() []string {
	return []string{"item_name_id", "brand_id", "mrp", "barcode", "expiry_date"}
}

func (p *ProductImporter) RequiredColumns() []string {
	return []string{"Item Name", "Brand", "MRP", "Expiry Date", "Barcode", "Rate"}
}

func (p *ProductImporter) MergeRules() map[string]dedupe.FieldMergeMode {
	return map[string]dedupe.FieldMergeMode{
		"current_stock":  dedupe.ModeLast,
		"purchase_price": dedupe.ModeLast,
		"rate":           dedupe.ModeLast,
		"gst_percent":    dedupe.ModeLast,
		"cess_percent":   dedupe.ModeLast,
	}
}

// ValidateInput checks structure and reports data-quality observations
// (null item names, deleted items) without failing on them.
func (p *ProductImporter) ValidateInput(t *etlio.Table) error {
	var missing []string
	for _, col := range p.RequiredColumns() {
		if !t.HasColumn(col) {
			missing = append(missing, col)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required columns: %v", missing)
	}
	if t.Len() == 0 {
		return fmt.Errorf("input is empty")
	}

	nullItemNames := 0
	deletedItems := 0
	for _, row := range t.Rows {
		name := normalize.String(row["Item Name"])
		if name == "" {
			nullItemNames++
		} else if name == "Deleted Item" {
			deletedItems++
		}
	}
	if nullItemNames > 0 {
		logging.Logf(logging.Warning, "Found %d records with null item names", nullItemNames)
	}
	if deletedItems > 0 {
		logging.Logf(logging.Info, "Found %d deleted items (will be skipped)", deletedItems)
	}
	logging.Logf(logging.Info, "Input data validation passed")
	return nil
}

// Preprocess normalizes shared columns in place and derives current_stock
// from whatever quantity columns the export carries.
func (p *ProductImporter) Preprocess(t *etlio.Table) (*etlio.Table, error) {
	logging.Logf(logging.Info, "Applying product-specific preprocessing")
	normalizeTable(t)

	if t.HasColumn("current_stock") {
		logging.Logf(logging.Info, "'current_stock' already present, skipping recalculation")
		return t, nil
	}

	switch {
	case t.HasColumn("Net Qty"):
		for _, row := range t.Rows {
			row["current_stock"] = normalize.Float(row["Net Qty"], 0)
		}
		logging.Logf(logging.Info, "Using 'Net Qty' for current stock")
	case t.HasColumn("Qty - Puranic Health Mart-PHM") && t.HasColumn("Qty - WAREHOUSE-1-WH"):
		for _, row := range t.Rows {
			row["current_stock"] = normalize.Float(row["Qty - Puranic Health Mart-PHM"], 0) +
				normalize.Float(row["Qty - WAREHOUSE-1-WH"], 0)
		}
		logging.Logf(logging.Info, "Calculated current stock from PHM + Warehouse quantities")
	default:
		for _, row := range t.Rows {
			row["current_stock"] = 0
		}
		logging.Logf(logging.Warning, "No quantity fields found, setting current_stock to 0")
	}
	t.Columns = append(t.Columns, "current_stock")
	return t, nil
}

// MapRow maps one raw product row into a products record. Rows without a
// usable item name are skipped; structurally invalid numeric fields are
// errors.
func (p *ProductImporter) MapRow(ctx context.Context, row map[string]interface{}) (map[string]interface{}, error) {
	itemNameID, err := p.getOrCreateItemName(ctx, row["Item Name"])
	if err != nil {
		return nil, err
	}
	if itemNameID == "" {
		return nil, nil
	}

	brandID, err := p.getOrCreateBrand(ctx, row["Brand"])
	if err != nil {
		return nil, err
	}

	gstPercent, cessPercent := parseGSTAndCess(row["Tax Category"])

	mrp := normalize.Float(row["MRP"], 0)
	if mrp < 0 {
		return nil, fmt.Errorf("negative MRP %v", mrp)
	}
	currentStock := normalize.Int(row["current_stock"], 0)
	if currentStock < 0 {
		return nil, fmt.Errorf("negative current_stock %d", currentStock)
	}

	barcode, _ := normalize.Identifier(row["Barcode"])

	hsnCode := normalize.String(row["HsnCode"])
	if hsnCode == "" {
		hsnCode = normalize.String(row["HSN Code"])
	}

	record := map[string]interface{}{
		"item_name_id":   itemNameID,
		"brand_id":       brandID,
		"barcode":        barcode,
		"hsn_code":       hsnCode,
		"size":           normalize.String(row["Size"]),
		"expiry_date":    normalize.Date(row["Expiry Date"], defaultExpiry).Format("2006-01-02"),
		"gst_percent":    gstPercent,
		"cess_percent":   cessPercent,
		"purchase_price": normalize.Float(row["Purchase Price"], 0),
		"mrp":            mrp,
		"rate":           normalize.Float(row["Rate"], 0),
		"current_stock":  currentStock,
	}
	return record, nil
}

// MergeWithInventory left-joins inventory stock onto product rows by the
// product merge keys. Products without an inventory match get zero stock.
func (p *ProductImporter) MergeWithInventory(products, inventory *etlio.Table) (*etlio.Table, error) {
	logging.Logf(logging.Info, "Starting product-inventory merge")

	normalizeTable(products)
	inv, err := p.Preprocess(inventory)
	if err != nil {
		return nil, fmt.Errorf("inventory preprocessing failed: %w", err)
	}

	logging.Logf(logging.Info, "Merging on keys: %v", productMergeKeys)
	stockByKey := make(map[dedupe.Key]interface{}, inv.Len())
	for _, row := range inv.Rows {
		key := dedupe.ConflictKey(row, productMergeKeys)
		if _, seen := stockByKey[key]; !seen {
			stockByKey[key] = row["current_stock"]
		}
	}

	matched, unmatched := 0, 0
	for _, row := range products.Rows {
		key := dedupe.ConflictKey(row, productMergeKeys)
		if stock, ok := stockByKey[key]; ok {
			row["current_stock"] = normalize.Int(stock, 0)
			matched++
		} else {
			row["current_stock"] = 0
			unmatched++
		}
	}
	if !products.HasColumn("current_stock") {
		products.Columns = append(products.Columns, "current_stock")
	}

	logging.Logf(logging.Info, "both: %d records", matched)
	logging.Logf(logging.Info, "left_only: %d records", unmatched)
	logging.Logf(logging.Info, "Merge completed: %d records", products.Len())
	return products, nil
}

func (p *ProductImporter) getOrCreateItemName(ctx context.Context, raw interface{}) (string, error) {
	name := normalize.String(raw)
	if name == "" || name == "Deleted Item" {
		return "", nil
	}
	cleaned := normalize.CleanItemName(name)

	if id, ok := p.itemNameCache[cleaned]; ok {
		return id, nil
	}
	id, err := p.lookup.GetOrCreateID(ctx, "item_names", "original_name", cleaned)
	if err != nil {
		return "", fmt.Errorf("resolving item name '%s': %w", cleaned, err)
	}
	p.itemNameCache[cleaned] = id
	return id, nil
}

func (p *ProductImporter) getOrCreateBrand(ctx context.Context, raw interface{}) (string, error) {
	name := normalize.String(raw)
	if name == "" {
		name = "NA"
	}
	if id, ok := p.brandCache[name]; ok {
		return id, nil
	}
	id, err := p.lookup.GetOrCreateID(ctx, "brands", "name", name)
	if err != nil {
		return "", fmt.Errorf("resolving brand '%s': %w", name, err)
	}
	p.brandCache[name] = id
	return id, nil
}

// parseGSTAndCess extracts GST and cess percentages from a tax category
// string such as "GST 18% (18+0)". A bare number is accepted as the GST
// rate. Unparseable values yield (0, nil).
func parseGSTAndCess(raw interface{}) (int, interface{}) {
	s := normalize.String(raw)
	if s == "" {
		return 0, nil
	}

	open := strings.Index(s, "(")
	end := strings.Index(s, ")")
	if open >= 0 && end > open {
		inside := s[open+1 : end]
		parts := strings.Split(inside, "+")

		gst := 0
		if g := strings.TrimSpace(parts[0]); g != "" {
			n, err := strconv.Atoi(g)
			if err != nil {
				logging.Logf(logging.Warning, "Cannot parse GST '%s': %v", s, err)
				return 0, nil
			}
			gst = n
		}
		if len(parts) > 1 {
			if c := strings.TrimSpace(parts[1]); c != "" {
				n, err := strconv.Atoi(c)
				if err != nil {
					logging.Logf(logging.Warning, "Cannot parse cess '%s': %v", s, err)
					return gst, nil
				}
				return gst, n
			}
		}
		return gst, nil
	}

	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		logging.Logf(logging.Warning, "Cannot parse GST '%s': %v", s, err)
		return 0, nil
	}
	return int(f), nil
}

// normalizeTable applies the shared column normalization rules in place.
func normalizeTable(t *etlio.Table) {
	logging.Logf(logging.Info, "Normalizing table with %d records", t.Len())
	for _, row := range t.Rows {
		if _, ok := row["Barcode"]; ok {
			if id, valid := normalize.Identifier(row["Barcode"]); valid {
				row["Barcode"] = id
			} else {
				row["Barcode"] = nil
			}
		}
		if _, ok := row["MRP"]; ok {
			row["MRP"] = normalize.Float(row["MRP"], 0)
		}
		if _, ok := row["Item Name"]; ok {
			row["Item Name"] = normalize.String(row["Item Name"])
		}
		if _, ok := row["Brand"]; ok {
			row["Brand"] = normalize.String(row["Brand"])
		}
		if _, ok := row["Expiry Date"]; ok {
			row["Expiry Date"] = normalize.Date(row["Expiry Date"], defaultExpiry).Format("2006-01-02")
		}
	}
}
