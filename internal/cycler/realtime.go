package cycler

import (
	"fmt"

	"github.com/fieldcycler/runtime/internal/valuetree"
)

// Tick runs one real-time cycle: (1) claim the own-database write slot,
// (2) read the current configuration, (3) assemble the cross-cycler
// input namespace, (4) run the bound modules — (5) after the first
// module, drain every registered perception Consumer and fold the result
// into the perception database watermark — (6) publish the own database
// as the new latest, (7) record the published snapshot into the historic
// database and prune it to the perception watermark, (8) forward the
// snapshot to the recorder if one is wired, (9) forward it to the
// outputs/communication hook if one is wired. This mirrors the
// RealTime arm of cycler.rs's generated cycle() method.
func (c *Cycler) Tick() error {
	if c.Kind != KindRealTime {
		return fmt.Errorf("cycler: Tick (real-time) called on a %v cycler", c.Kind)
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
	updates := make(map[string]Update[valuetree.Value], len(c.Consumers))
	output, err := c.runModules(c.Instance, inputRoot, paramRoot, func() { // 4 + 5
		for name, consumer := range c.Consumers {
			entries := consumer.Consume(now)
			update := Update[valuetree.Value]{Items: entries}
			update.FirstTimestampOfNonFinalized, update.HasFirstTimestampOfNonFinalized = consumer.queue.Watermark()
			updates[name] = update
		}
		c.PerceptionDBs.Update(now, updates)
	})
	if err != nil {
		guard.Discard()
		return err
	}

	guard.Set(output)
	guard.Publish() // 6

	c.HistoricDB.Insert(now, output)
	if watermark, ok := c.PerceptionDBs.Watermark(); ok {
		c.HistoricDB.PruneBefore(watermark)
	} // 7

	if c.Recorder != nil {
		c.Recorder(now, output)
	} // 8
	if c.OnPublish != nil {
		c.OnPublish(c.Instance, now, output)
	} // 9

	return nil
}
