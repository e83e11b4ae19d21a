package avatarsvc

// AvatarConfig holds configuration parameters for the avatar service.
type AvatarConfig struct {
	// Interpolator specifies the image scaling algorithm to use.
	// Valid values are: "nearestneighbor", "catmullrom", "bilinear", "approxbilinear"
	Interpolator string `env:"INTERPOLATOR" default:"catmullrom"`

	// Width is the maximum stored width in pixels; wider images are scaled down.
	// Zero keeps the original size.
	Width int `env:"WIDTH" default:"256"`

	// MaxSize is the maximum accepted upload size in bytes
	MaxSize int64 `env:"MAX_SIZE" default:"5242880"`
}
