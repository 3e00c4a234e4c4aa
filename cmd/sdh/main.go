// sdh is the command line tool for the key-conditioned steganographic
// hiding pipeline: it trains the hiding/reveal networks on directories of
// secret and cover image pairs, embeds and recovers secrets with a trained
// model, and scores models over image directories.
package main

import (
	"flag"
	"fmt"
	"os"
	"path"

	"github.com/SleepSupreme/sdh/stego"
	"github.com/disintegration/imaging"
	"github.com/gomlx/gomlx/backends"
	"github.com/gomlx/gomlx/pkg/ml/context"
	"github.com/gomlx/gomlx/pkg/support/fsutil"
	"github.com/gomlx/gomlx/ui/commandline"
	"github.com/janpfeifer/must"
	"k8s.io/klog/v2"

	_ "github.com/gomlx/gomlx/backends/default"
)

const usage = `Usage: sdh <command> [flags]

Commands:
  train     Pair the secret and cover images of two directories and train
            the hiding and reveal networks on them.
  hide      Embed a secret image into a cover image with a trained model,
            writing the container image.
  reveal    Recover the secret image from a container image.
  evaluate  Score a trained model over a directory of image pairs.
  params    Show the hyperparameters and variables of a checkpoint.

Run "sdh <command> -help" for the flags of a command.
`

var (
	flagDataDir    = flag.String("data", "~/work/sdh", "Directory to store datasets and checkpoints in.")
	flagCheckpoint = flag.String("checkpoint", "", "Checkpoint directory, relative paths are taken under --data. "+
		"During training the best validation state is kept under its \"best\" subdirectory, point at that to use it.")
	flagSecretsDir = flag.String("secrets", "", "Directory with the secret images, paired with --covers by sorted file name.")
	flagCoversDir  = flag.String("covers", "", "Directory with the cover images.")
	flagEval       = flag.Bool("eval", true, "Whether to report a final evaluation on the train and validation splits after training.")

	flagCover     = flag.String("cover", "", "Cover image file for hide.")
	flagSecret    = flag.String("secret", "", "Secret image file for hide.")
	flagContainer = flag.String("container", "", "Container image file for reveal.")
	flagOutput    = flag.String("output", "", "Output image file, defaults to container.png for hide and revealed.png for reveal. "+
		"Use a lossless format: saving the container as JPEG destroys the hidden data.")
	flagKey = flag.String("key", "", "Passphrase the hiding key is derived from, must match between hide and reveal. "+
		"Required for models trained with a key, forbidden for keyless ones.")

	flagBatch = flag.Int("batch", 10, "Batch size used by evaluate.")
	flagSeed  = flag.Int64("seed", 42, "Seed for the keys sampled by evaluate.")
)

func main() {
	ctx := stego.CreateDefaultContext()
	settings := commandline.CreateContextSettingsFlag(ctx, "")
	klog.InitFlags(nil)
	if len(os.Args) < 2 {
		fmt.Fprint(os.Stderr, usage)
		os.Exit(1)
	}
	cmd := os.Args[1]
	must.M(flag.CommandLine.Parse(os.Args[2:]))
	paramsSet := must.M1(commandline.ParseContextSettings(ctx, *settings))

	switch cmd {
	case "train":
		train(ctx, paramsSet)
	case "hide":
		hide()
	case "reveal":
		reveal()
	case "evaluate":
		evaluate()
	case "params":
		showParams(checkpointDir())
	case "help", "-help", "--help":
		fmt.Print(usage)
		fmt.Println("Flags:")
		flag.PrintDefaults()
	default:
		fmt.Fprintf(os.Stderr, "unknown command %q\n\n%s", cmd, usage)
		os.Exit(1)
	}
}

func checkpointDir() string {
	if *flagCheckpoint == "" {
		klog.Exitf("--checkpoint is required for this command")
	}
	dir := fsutil.MustReplaceTildeInDir(*flagCheckpoint)
	if !path.IsAbs(dir) {
		dir = path.Join(fsutil.MustReplaceTildeInDir(*flagDataDir), dir)
	}
	return dir
}

func train(ctx *context.Context, paramsSet []string) {
	if *flagSecretsDir == "" || *flagCoversDir == "" {
		klog.Exitf("train requires --secrets and --covers image directories")
	}
	stego.Train(ctx, *flagSecretsDir, *flagCoversDir, *flagDataDir, *flagCheckpoint, *flagEval, paramsSet)
}

func hide() {
	dir := checkpointDir()
	if *flagCover == "" || *flagSecret == "" {
		klog.Exitf("hide requires --cover and --secret image files")
	}
	output := *flagOutput
	if output == "" {
		output = "container.png"
	}
	cover := must.M1(imaging.Open(*flagCover))
	secret := must.M1(imaging.Open(*flagSecret))

	backend := backends.MustNew()
	model := must.M1(stego.LoadInferenceModel(backend, dir))
	container := must.M1(model.Hide(cover, secret, *flagKey))
	must.M(imaging.Save(container, output))
	fmt.Printf("container image saved to %s\n", output)
}

func reveal() {
	dir := checkpointDir()
	if *flagContainer == "" {
		klog.Exitf("reveal requires a --container image file")
	}
	output := *flagOutput
	if output == "" {
		output = "revealed.png"
	}
	container := must.M1(imaging.Open(*flagContainer))

	backend := backends.MustNew()
	model := must.M1(stego.LoadInferenceModel(backend, dir))
	revealed := must.M1(model.Reveal(container, *flagKey))
	must.M(imaging.Save(revealed, output))
	fmt.Printf("revealed image saved to %s\n", output)
}

func evaluate() {
	dir := checkpointDir()
	if *flagSecretsDir == "" || *flagCoversDir == "" {
		klog.Exitf("evaluate requires --secrets and --covers image directories")
	}
	backend := backends.MustNew()
	model := must.M1(stego.LoadInferenceModel(backend, dir))
	result := must.M1(model.EvaluateDirs(*flagSecretsDir, *flagCoversDir, *flagBatch, *flagSeed))
	printEvaluation(model.Config(), result)
}
