package main

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"resen/internal/app"
)

func bucketCommands() []*cobra.Command {
	return []*cobra.Command{
		pullCmd, createCmd, startCmd, stopCmd, statusCmd, removeCmd,
		execCmd, exportCmd, sizeCmd, provisionCmd,
	}
}

var pullCmd = &cobra.Command{
	Use:   "pull",
	Short: "Pull the bucket image if it is not present locally",
	Run: func(cmd *cobra.Command, args []string) {
		b := loadBucket(cmd)
		withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
			if err := ws.Pull(ctx, b); err != nil {
				return err
			}
			console.PrintSuccess(fmt.Sprintf("Image %s is available", b.Docker.Image))
			return nil
		})
	},
}

var createCmd = &cobra.Command{
	Use:   "create",
	Short: "Create the bucket container",
	Long: `Create pulls the bucket image when needed and creates an idle container with
the bucket's ports and storage mounts. The container id is recorded so later
commands can find it.`,
	Run: func(cmd *cobra.Command, args []string) {
		b := loadBucket(cmd)
		withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
			id, status, err := ws.Create(ctx, b)
			if err != nil {
				return err
			}
			console.PrintSuccess(fmt.Sprintf("Created container %s (%s)", id, status))
			return nil
		})
	},
}

var startCmd = &cobra.Command{
	Use:   "start",
	Short: "Start the bucket container",
	Run: func(cmd *cobra.Command, args []string) {
		b := loadBucket(cmd)
		withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
			status, err := ws.Start(ctx, b)
			if err != nil {
				return err
			}
			console.Println(status)
			return nil
		})
	},
}

var stopCmd = &cobra.Command{
	Use:   "stop",
	Short: "Stop the bucket container",
	Run: func(cmd *cobra.Command, args []string) {
		b := loadBucket(cmd)
		withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
			status, err := ws.Stop(ctx, b)
			if err != nil {
				return err
			}
			console.Println(status)
			return nil
		})
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current status of the bucket container",
	Run: func(cmd *cobra.Command, args []string) {
		b := loadBucket(cmd)
		withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
			status, err := ws.Status(ctx, b)
			if err != nil {
				return err
			}
			console.Println(status)
			return nil
		})
	},
}

var removeCmd = &cobra.Command{
	Use:   "remove",
	Short: "Remove the bucket container",
	Run: func(cmd *cobra.Command, args []string) {
		b := loadBucket(cmd)
		withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
			if err := ws.Remove(ctx, b); err != nil {
				return err
			}
			console.PrintSuccess(fmt.Sprintf("Removed container for bucket %s", b.Metadata.Name))
			return nil
		})
	},
}

var execCmd = &cobra.Command{
	Use:   "exec COMMAND",
	Short: "Run a command inside the bucket container",
	Long: `Exec runs COMMAND inside the running bucket container. A single argument is
split shell-style; several arguments are passed as separate words. By default the
command is started detached; pass --detach=false to wait for its output and exit code.`,
	Args: cobra.MinimumNArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		b := loadBucket(cmd)
		user, _ := cmd.Flags().GetString("user")
		detach, _ := cmd.Flags().GetBool("detach")
		command := commandLine(args)

		var exitCode int
		withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
			result, err := ws.Exec(ctx, b, command, user, detach)
			if err != nil {
				return err
			}
			if _, err := os.Stdout.Write(result.Output); err != nil {
				return err
			}
			if result.Running {
				console.PrintInfo("Command is running in the background")
			}
			exitCode = result.ExitCode
			return nil
		})
		if exitCode != 0 {
			os.Exit(exitCode)
		}
	},
}

// commandLine turns exec arguments into one command string. A single argument
// is taken as a shell-style command; several are quoted so each survives the
// split as one word.
func commandLine(args []string) string {
	if len(args) == 1 {
		return args[0]
	}
	quoted := make([]string, len(args))
	for i, arg := range args {
		quoted[i] = shellQuote(arg)
	}
	return strings.Join(quoted, " ")
}

func shellQuote(arg string) string {
	if arg != "" && !strings.ContainsAny(arg, " \t\n'\"\\#") {
		return arg
	}
	return "'" + strings.ReplaceAll(arg, "'", `'\''`) + "'"
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export the bucket container as an image archive",
	Run: func(cmd *cobra.Command, args []string) {
		b := loadBucket(cmd)
		output, _ := cmd.Flags().GetString("output")
		tag, _ := cmd.Flags().GetString("tag")

		withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
			console.PrintInfo(fmt.Sprintf("Exporting bucket %s to %s", b.Metadata.Name, output))
			if err := ws.Export(ctx, b, tag, output); err != nil {
				return err
			}
			console.PrintSuccess(fmt.Sprintf("Exported bucket %s to %s", b.Metadata.Name, output))
			return nil
		})
	},
}

var importCmd = &cobra.Command{
	Use:   "import ARCHIVE",
	Short: "Load an exported image archive and print its image id",
	Args:  cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
			id, err := ws.Import(ctx, args[0])
			if err != nil {
				return err
			}
			console.Println(id)
			return nil
		})
	},
}

var sizeCmd = &cobra.Command{
	Use:   "size",
	Short: "Print the disk usage of the bucket container",
	Run: func(cmd *cobra.Command, args []string) {
		b := loadBucket(cmd)
		withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
			size, err := ws.Size(ctx, b)
			if err != nil {
				return err
			}
			console.Println(size.String())
			return nil
		})
	},
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Pull, create and start the bucket container",
	Long: `Provision runs the image, create and start stages in order. Progress is saved
after each stage, so re-running after a failure resumes where it stopped instead
of creating a second container.`,
	Run: func(cmd *cobra.Command, args []string) {
		b := loadBucket(cmd)
		withWorkspace(cmd, func(ctx context.Context, ws *app.Workspace) error {
			_, err := ws.Provision(ctx, b)
			return err
		})
	},
}
