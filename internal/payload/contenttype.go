package payload

var contentTypes = map[string]string{
	".json": "application/json",
	".csv":  "text/csv",
	".xml":  "application/xml",
	".txt":  "text/plain",
	".log":  "text/plain",

	".jpg":  "image/jpeg",
	".jpeg": "image/jpeg",
	".png":  "image/png",
	".gif":  "image/gif",
	".bmp":  "image/bmp",
	".webp": "image/webp",
	".svg":  "image/svg+xml",
	".tif":  "image/tiff",
	".tiff": "image/tiff",

	".pdf":  "application/pdf",
	".doc":  "application/msword",
	".docx": "application/vnd.openxmlformats-officedocument.wordprocessingml.document",
	".rtf":  "application/rtf",

	".dwg": "application/dwg",
	".dxf": "application/dxf",
	".dgn": "application/dgn",
	".dwf": "application/vnd.dwf",

	".xls":  "application/vnd.ms-excel",
	".xlsx": "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet",
	".xlsm": "application/vnd.ms-excel.sheet.macroEnabled.12",
	".xlsb": "application/vnd.ms-excel.sheet.binary.macroEnabled.12",

	".zip": "application/zip",
	".rar": "application/vnd.rar",
	".7z":  "application/x-7z-compressed",
	".tar": "application/x-tar",
	".gz":  "application/gzip",

	".mp4": "video/mp4",
	".avi": "video/x-msvideo",
	".mov": "video/quicktime",
	".wmv": "video/x-ms-wmv",
	".mp3": "audio/mpeg",
	".wav": "audio/wav",

	".html": "text/html",
	".css":  "text/css",
	".js":   "text/javascript",

	".db":     "application/x-sqlite3",
	".sqlite": "application/x-sqlite3",
}

// ContentType returns the MIME type for a lower-cased extension, or
// application/octet-stream for anything unknown.
func ContentType(ext string) string {
	if ct, ok := contentTypes[ext]; ok {
		return ct
	}
	return "application/octet-stream"
}
