package bootstrap

// CommitHash identifies the build in the startup log. Release builds set it
// with:
//
//	go build -ldflags="-X github.com/fpang/storybook-faceswap/internal/bootstrap.CommitHash=${COMMIT_HASH}"
var CommitHash = "dev"
