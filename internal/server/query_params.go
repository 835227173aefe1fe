package server

// pageQuery is embedded by list handlers that page with opaque cursors.
type pageQuery struct {
	PageToken string `form:"page_token"`
	PageSize  int    `form:"page_size"`
}
