package cycler

import (
	"fmt"

	"github.com/fieldcycler/runtime/internal/valuetree"
)

// Tick runs one perception cycle: (1) claim the own-database write slot,
// (2) read the current configuration, (3) assemble the cross-cycler
// input namespace (typically real-time cyclers' latest outputs), (4) run
// the bound modules — (5) after the first module, announce this tick's
// timestamp to every registered Consumer so real-time readers can pin an
// ordering point before the value exists — (6) run the rest of the
// modules, (7) publish the own database and finalize the announced
// timestamp with it. This mirrors the Perception arm of cycler.rs's
// generated cycle() method.
func (c *Cycler) PerceptionTick() error {
	if c.Kind != KindPerception {
		return fmt.Errorf("cycler: PerceptionTick called on a %v cycler", c.Kind)
	}

	guard := c.OwnWriter.Next() // 1

	paramRoot := valuetree.Null()
	if c.ConfigReader != nil {
		if v, ok := c.ConfigReader.Next().Value(); ok {
			paramRoot = v
		}
	} // 2

	inputRoot := c.buildInputRoot() // 3

	now := c.Clock.Now()
	var announceErr error
	output, err := c.runModules(c.Instance, inputRoot, paramRoot, func() { // 4 + 5
		announceErr = c.OwnProducer.Announce(now)
	}) // 6 (remaining modules run within the same runModules call)
	if err != nil {
		guard.Discard()
		return err
	}
	if announceErr != nil {
		guard.Discard()
		return announceErr
	}

	guard.Set(output)
	guard.Publish()
	if err := c.OwnProducer.Finalize(output); err != nil {
		return err
	} // 7

	if c.Recorder != nil {
		c.Recorder(now, output)
	}
	if c.OnPublish != nil {
		c.OnPublish(c.Instance, now, output)
	}

	return nil
}
