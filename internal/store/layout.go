package store

// Persisted layout. All backends share these logical paths so data written
// by one deployment stays readable by another.
//
//	products/{id}                      product fields
//	categories/{name}                  boolean marker
//	daily_sales/{YYYY-MM-DD}/{id}      units sold that day
//	sales_log/{generatedId}            immutable sale entries
//	users/{uid}                        role/profile fields
const (
	ProductsPath   = "products"
	CategoriesPath = "categories"
	DailySalesPath = "daily_sales"
	SalesLogPath   = "sales_log"
	UsersPath      = "users"
)

func ProductPath(id string) string {
	return ProductsPath + "/" + id
}

// ProductField addresses a single field of a product record, e.g. the
// stock counter targeted by an increment batch.
func ProductField(id, field string) string {
	return ProductsPath + "/" + id + "/" + field
}

func CategoryPath(name string) string {
	return CategoriesPath + "/" + name
}

func DailyCountPath(dateKey, productID string) string {
	return DailySalesPath + "/" + dateKey + "/" + productID
}

func UserPath(uid string) string {
	return UsersPath + "/" + uid
}
