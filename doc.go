// Package stillsuit is a generic data-access layer built around Repository[T].
//
// A repository never talks to a database driver directly. It resolves a Session,
// either one handed to it at construction time or the one bound to the unit of
// work carried by the context, and forwards lifecycle transitions to it:
//
//	reg := stillsuit.NewRegistry()
//	stillsuit.Register[Order](reg, engine)
//
//	err := stillsuit.WithUnitOfWork(ctx, reg, func(ctx context.Context) error {
//		orders := stillsuit.New[Order]()
//		if err := orders.Include(stillsuit.Path("Lines")); err != nil {
//			return err
//		}
//		q, err := orders.Query(ctx)
//		if err != nil {
//			return err
//		}
//		open, err := q.Where("status", stillsuit.OpEqual, "open").All(ctx)
//		...
//		return orders.Add(ctx, &Order{ID: "o-1"})
//	})
//
// Nothing is written until the unit of work commits. Engines live in the memory,
// sqlengine and redisengine packages.
package stillsuit
