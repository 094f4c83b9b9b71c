package version

// Version is the current version of the WarpMesh CLI. Release builds set it
// with:
//
//	go build -ldflags="-X 'github.com/BioHazard786/warpmesh/internal/version.Version=v1.0.0'"
var Version = "dev"
