package ingestion

import (
	"fmt"
	"sort"
	"strings"
)

// Platform identifiers.
const (
	PlatformBigBasket = "bigbasket"
	PlatformJioMart   = "jiomart"
	PlatformSwiggy    = "swiggy"
	PlatformZepto     = "zepto"
)

// Dataset identifiers.
const (
	DatasetInventory      = "inventory"
	DatasetSecondarySales = "secondary_sales"
	DatasetSales          = "sales"
	DatasetCancellations  = "cancellations"
)

const (
	layoutISODate     = "2006-01-02"
	layoutDayFirst    = "02-01-2006"
	layoutJioMartTime = "2006-01-02 15:04:05 -0700"
	layoutDateTime    = "2006-01-02 15:04:05"
)

func text(name string, headers ...string) Field {
	return Field{Name: name, Headers: headers, Kind: KindText}
}

func count(name string, headers ...string) Field {
	return Field{Name: name, Headers: headers, Kind: KindCount}
}

func amount(name string, headers ...string) Field {
	return Field{Name: name, Headers: headers, Kind: KindAmount}
}

func date(name string, layouts []string, headers ...string) Field {
	return Field{Name: name, Headers: headers, Kind: KindDate, Layouts: layouts}
}

// cleanOpenPOs turns Swiggy's `["PO1","PO2"]` cell into `PO1,PO2`.
func cleanOpenPOs(v string) string {
	if v == "[]" {
		return ""
	}
	v = strings.TrimPrefix(v, "[")
	v = strings.TrimSuffix(v, "]")
	return strings.ReplaceAll(v, `"`, "")
}

var registry = map[string]Schema{}

func register(s Schema) {
	if err := s.Validate(); err != nil {
		panic(err)
	}
	registry[schemaKey(s.Platform, s.Dataset)] = s
}

func schemaKey(platform, dataset string) string {
	return strings.ToLower(strings.TrimSpace(platform)) + "/" + strings.ToLower(strings.TrimSpace(dataset))
}

// Lookup returns the schema registered for a platform report.
func Lookup(platform, dataset string) (Schema, error) {
	s, ok := registry[schemaKey(platform, dataset)]
	if !ok {
		return Schema{}, fmt.Errorf("%w: %s/%s", ErrUnknownSchema, platform, dataset)
	}
	return s, nil
}

// Schemas lists every registered schema ordered by platform then dataset.
func Schemas() []Schema {
	out := make([]Schema, 0, len(registry))
	for _, s := range registry {
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Platform != out[j].Platform {
			return out[i].Platform < out[j].Platform
		}
		return out[i].Dataset < out[j].Dataset
	})
	return out
}

func init() {
	register(Schema{
		Platform: PlatformBigBasket,
		Dataset:  DatasetInventory,
		Key:      "sku_id",
		Fields: []Field{
			text("city", "city"),
			text("sku_id", "sku_id"),
			text("brand_name", "brand_name"),
			text("sku_name", "sku_name"),
			text("sku_weight", "sku_weight"),
			text("sku_pack_type", "sku_pack_type"),
			text("sku_description", "sku_description"),
			text("top_category_name", "top_category_name"),
			text("mid_category_name", "mid_category_name"),
			text("leaf_category_name", "leaf_category_name"),
			count("soh", "soh"),
			amount("soh_value", "soh_value"),
		},
		Summary: SummarySpec{
			Sums: []Rollup{
				{Name: "totalStockOnHand", Field: "soh"},
				{Name: "totalStockValue", Field: "soh_value"},
			},
			Distinct: []Rollup{
				{Name: "uniqueSKUs", Field: "sku_id"},
				{Name: "uniqueCities", Field: "city"},
			},
		},
	})

	register(Schema{
		Platform: PlatformBigBasket,
		Dataset:  DatasetSecondarySales,
		Key:      "source_sku_id",
		Fields: []Field{
			text("date_range", "date_range"),
			text("source_city_name", "source_city_name"),
			text("brand_name", "brand_name"),
			text("top_slug", "top_slug"),
			text("mid_slug", "mid_slug"),
			text("leaf_slug", "leaf_slug"),
			text("source_sku_id", "source_sku_id"),
			text("sku_description", "sku_description"),
			text("sku_weight", "sku_weight"),
			count("total_quantity", "total_quantity"),
			amount("total_mrp", "total_mrp"),
			amount("total_sales", "total_sales"),
		},
		Summary: SummarySpec{
			Sums: []Rollup{
				{Name: "totalSalesValue", Field: "total_sales"},
				{Name: "totalQuantity", Field: "total_quantity"},
				{Name: "totalMRP", Field: "total_mrp"},
			},
			Distinct: []Rollup{
				{Name: "uniqueProducts", Field: "source_sku_id"},
				{Name: "uniqueCities", Field: "source_city_name"},
			},
		},
	})

	register(Schema{
		Platform: PlatformJioMart,
		Dataset:  DatasetInventory,
		Key:      "sku_id",
		Fields: []Field{
			text("rfc_id", "RFC ID"),
			text("rfc_name", "RFC Name"),
			text("sku_id", "SKU ID"),
			text("title", "Title"),
			text("category", "Category"),
			text("product_status", "Product Status"),
			date("last_updated_at", []string{layoutDateTime, layoutISODate}, "Last updated at"),
			count("total_sellable_inv", "TOTAL_SELLABLE_INV"),
			count("total_unsellable_inv", "TOTAL_UNSELLABLE_INV"),
			count("fc_dmg_inv", "FC_DMG_INV"),
			count("lsp_dmg_inv", "LSP_DMG_INV"),
			count("cust_dmg_inv", "CUST_DMG_INV"),
			count("recvd_dmg", "RECVD_DMG"),
			count("expired_inv", "EXPIRED_INV"),
			count("other_unsellable_inv", "OTHER_UNSELLABLE_INV"),
			count("mtd_fwd_intransit", "MTD_FWD_INTRANSIT"),
			count("mtd_delvd_cust", "MTD_DELVD_CUST"),
			count("mtd_ret_intransit", "MTD_RET_INTRANSIT"),
			count("mtd_order_count", "MTD_ORDER_COUNT"),
		},
		Summary: SummarySpec{
			Sums: []Rollup{
				{Name: "totalSellableInventory", Field: "total_sellable_inv"},
				{Name: "totalUnsellableInventory", Field: "total_unsellable_inv"},
				{Name: "totalIntransit", Field: "mtd_fwd_intransit"},
				{Name: "totalOrders", Field: "mtd_order_count"},
			},
			Distinct: []Rollup{
				{Name: "uniqueSKUs", Field: "sku_id"},
				{Name: "uniqueFulfillmentCenters", Field: "rfc_id"},
			},
		},
	})

	register(Schema{
		Platform: PlatformJioMart,
		Dataset:  DatasetSales,
		Key:      "shipment_number",
		Fields: []Field{
			text("shipment_number", "Shipment Number"),
			text("fulfillment_type", "Fulfillment Type"),
			date("shipment_created_at", []string{layoutJioMartTime, layoutDateTime}, "Shipment Created At"),
			text("shipment_status", "Shipment Status"),
			text("fulfiller_name", "Fulfiller Name"),
			date("accepted_at", []string{layoutJioMartTime, layoutDateTime}, "Accepted At"),
			text("product_title", "Product Title"),
			text("ean", "EAN"),
			text("sku", "Sku", "SKU"),
			count("qty", "Qty"),
			amount("mrp", "MRP"),
			amount("promotion_amt", "Promotion Amt"),
			amount("shipping_charge", "Shipping Charge"),
			amount("item_total", "Item Total"),
			text("payment_method_used", "Payment Method Used"),
			text("tracking_code", "Tracking Code"),
			text("shipping_agent_code", "Shipping Agent Code"),
			text("invoice_id", "Invoice Id"),
			date("acceptance_tat", []string{layoutJioMartTime, layoutDateTime}, "Acceptance TAT Date & Time"),
		},
		Summary: SummarySpec{
			Sums: []Rollup{
				{Name: "totalSalesValue", Field: "item_total"},
				{Name: "totalQuantity", Field: "qty"},
			},
			Distinct: []Rollup{
				{Name: "uniqueProducts", Field: "sku"},
			},
		},
	})

	register(Schema{
		Platform: PlatformJioMart,
		Dataset:  DatasetCancellations,
		Key:      "shipment_number",
		Fields: []Field{
			text("shipment_number", "Shipment number", "Shipment Number"),
			text("ean", "EAN"),
			text("sku", "SKU", "Sku"),
			text("product", "Product"),
			text("invoice_id", "Invoice Id"),
			amount("invoice_amount", "Invoice amount"),
			count("quantity", "Quantity"),
			amount("amount", "Amount"),
			text("status", "Status"),
			text("reason", "Reason"),
			text("payment_method", "Payment method"),
			text("fulfiller_name", "Fulfiller Name"),
		},
		Summary: SummarySpec{
			Sums: []Rollup{
				{Name: "totalSalesValue", Field: "amount"},
				{Name: "totalQuantity", Field: "quantity"},
			},
			Distinct: []Rollup{
				{Name: "uniqueProducts", Field: "sku"},
			},
		},
	})

	register(Schema{
		Platform: PlatformSwiggy,
		Dataset:  DatasetInventory,
		Key:      "sku_code",
		Fields: []Field{
			text("storage_type", "StorageType"),
			text("facility_name", "FacilityName"),
			text("city", "City"),
			text("sku_code", "SkuCode"),
			text("sku_description", "SkuDescription"),
			text("l1_category", "L1"),
			text("l2_category", "L2"),
			count("shelf_life_days", "ShelfLifeDays"),
			text("business_category", "BusinessCategory"),
			count("days_on_hand", "DaysOnHand"),
			amount("potential_gmv_loss", "PotentialGmvLoss"),
			{Name: "open_pos", Headers: []string{"OpenPos"}, Kind: KindText, Clean: cleanOpenPOs},
			count("open_po_quantity", "OpenPoQuantity"),
			count("warehouse_qty_available", "WarehouseQtyAvailable"),
		},
		Summary: SummarySpec{
			Sums: []Rollup{
				{Name: "totalWarehouseQty", Field: "warehouse_qty_available"},
				{Name: "totalOpenPoQty", Field: "open_po_quantity"},
				{Name: "totalPotentialGmvLoss", Field: "potential_gmv_loss"},
			},
			Distinct: []Rollup{
				{Name: "uniqueFacilities", Field: "facility_name"},
				{Name: "uniqueCities", Field: "city"},
			},
		},
	})

	register(Schema{
		Platform: PlatformSwiggy,
		Dataset:  DatasetSecondarySales,
		Key:      "item_code",
		Fields: []Field{
			text("brand", "BRAND"),
			date("ordered_date", []string{layoutISODate, layoutDateTime}, "ORDERED_DATE"),
			text("city", "CITY"),
			text("area_name", "AREA_NAME"),
			text("store_id", "STORE_ID"),
			text("l1_category", "L1_CATEGORY"),
			text("l2_category", "L2_CATEGORY"),
			text("l3_category", "L3_CATEGORY"),
			text("product_name", "PRODUCT_NAME"),
			text("variant", "VARIANT"),
			text("item_code", "ITEM_CODE"),
			text("combo", "COMBO"),
			text("combo_item_code", "COMBO_ITEM_CODE"),
			count("combo_units_sold", "COMBO_UNITS_SOLD"),
			amount("base_mrp", "BASE_MRP"),
			count("units_sold", "UNITS_SOLD"),
			amount("gmv", "GMV"),
		},
		Summary: SummarySpec{
			Sums: []Rollup{
				{Name: "totalUnitsSold", Field: "units_sold"},
				{Name: "totalGMV", Field: "gmv"},
			},
			Distinct: []Rollup{
				{Name: "uniqueProducts", Field: "item_code"},
				{Name: "uniqueStores", Field: "store_id"},
				{Name: "uniqueCities", Field: "city"},
			},
		},
	})

	register(Schema{
		Platform: PlatformZepto,
		Dataset:  DatasetInventory,
		Key:      "sku_code",
		Fields: []Field{
			text("city", "City"),
			text("sku_name", "SKU Name"),
			text("sku_code", "SKU Code"),
			text("ean", "EAN"),
			text("sku_category", "SKU Category"),
			text("sku_sub_category", "SKU Sub Category"),
			text("brand_name", "Brand Name"),
			text("manufacturer_name", "Manufacturer Name"),
			text("manufacturer_id", "Manufacturer ID"),
			count("units", "Units"),
		},
		Summary: SummarySpec{
			Sums: []Rollup{
				{Name: "totalUnits", Field: "units"},
			},
			Distinct: []Rollup{
				{Name: "uniqueCities", Field: "city"},
				{Name: "uniqueSKUs", Field: "sku_code"},
			},
		},
	})

	register(Schema{
		Platform: PlatformZepto,
		Dataset:  DatasetSecondarySales,
		Key:      "sku_number",
		Fields: []Field{
			date("date", []string{layoutDayFirst, layoutISODate}, "Date"),
			text("sku_number", "SKU Number"),
			text("sku_name", "SKU Name"),
			text("ean", "EAN"),
			text("sku_category", "SKU Category"),
			text("sku_sub_category", "SKU Sub Category"),
			text("brand_name", "Brand Name"),
			text("manufacturer_name", "Manufacturer Name"),
			text("manufacturer_id", "Manufacturer ID"),
			text("city", "City"),
			count("sales_qty_units", "Sales (Qty) - Units"),
			amount("mrp", "MRP"),
			amount("gmv", "Gross Merchandise Value"),
		},
		Summary: SummarySpec{
			Sums: []Rollup{
				{Name: "totalUnits", Field: "sales_qty_units"},
				{Name: "totalGMV", Field: "gmv"},
			},
			Distinct: []Rollup{
				{Name: "uniqueSKUs", Field: "sku_number"},
				{Name: "uniqueCities", Field: "city"},
			},
		},
	})
}
