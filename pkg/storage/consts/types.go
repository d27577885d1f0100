package consts

const (
	DefaultInfoFile  = "info.json"
	DefaultPhotoName = "photo.jpg"

	DefaultImageExt = ".jpg"

	DefaultFilePerm = 0666
	DefaultDirPerm  = 0777

	// MaxUniqueAttempts bounds the "name (n).ext" search of CreateUniqueFile.
	MaxUniqueAttempts = 10000
)
